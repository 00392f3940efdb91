package admin

import (
	"strconv"
	"strings"

	"github.com/consently-next/internal/http/response"
	"github.com/consently-next/internal/repository"

	"github.com/gin-gonic/gin"
)

// ListConsentRecords 分页查询同意记录（审计视图，仅追加不可改）
func (h *Handler) ListConsentRecords(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	createdFrom, err := parseTimeNullable(c.Query("created_from"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}
	createdTo, err := parseTimeNullable(c.Query("created_to"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}

	records, total, err := h.ConsentRecordService.List(repository.ConsentRecordListFilter{
		Page:          page,
		PageSize:      pageSize,
		WidgetID:      strings.TrimSpace(c.Query("widget_id")),
		VisitorID:     strings.TrimSpace(c.Query("visitor_id")),
		ConsentID:     strings.TrimSpace(c.Query("consent_id")),
		OverallStatus: strings.TrimSpace(c.Query("overall_status")),
		CreatedFrom:   createdFrom,
		CreatedTo:     createdTo,
	})
	if err != nil {
		respondError(c, response.CodeInternal, "同意记录查询失败", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, records, pagination)
}
