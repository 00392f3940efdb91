package admin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/consently-next/internal/http/response"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/repository"
	"github.com/consently-next/internal/service"

	"github.com/gin-gonic/gin"
)

// WidgetActivityPayload 活动配置载荷
type WidgetActivityPayload struct {
	ActivityID  string `json:"activity_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Essential   bool   `json:"essential"`
	SortOrder   int    `json:"sort_order"`
}

// CreateWidgetRequest 创建 Widget 请求
type CreateWidgetRequest struct {
	WidgetID            string                  `json:"widget_id" binding:"required"`
	Name                string                  `json:"name" binding:"required"`
	Domain              string                  `json:"domain"`
	DefaultLocale       string                  `json:"default_locale"`
	ConsentDurationDays int                     `json:"consent_duration_days"`
	OTPExpireMinutes    int                     `json:"otp_expire_minutes"`
	IsActive            *bool                   `json:"is_active"`
	Activities          []WidgetActivityPayload `json:"activities"`
}

// ListWidgets 分页查询 Widget 列表
func (h *Handler) ListWidgets(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.WidgetListFilter{
		Page:     page,
		PageSize: pageSize,
		Search:   strings.TrimSpace(c.Query("search")),
	}
	if raw := strings.TrimSpace(c.Query("is_active")); raw != "" {
		isActive := raw == "true" || raw == "1"
		filter.IsActive = &isActive
	}

	widgets, total, err := h.WidgetService.List(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "Widget 列表查询失败", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, widgets, pagination)
}

// GetWidget 获取 Widget 详情
func (h *Handler) GetWidget(c *gin.Context) {
	id, ok := parseWidgetIDParam(c)
	if !ok {
		return
	}

	widget, err := h.WidgetService.GetByID(id)
	if err != nil {
		if errors.Is(err, service.ErrWidgetNotFound) {
			respondError(c, response.CodeNotFound, "Widget 不存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "Widget 查询失败", err)
		return
	}
	response.Success(c, widget)
}

// CreateWidget 创建 Widget
func (h *Handler) CreateWidget(c *gin.Context) {
	var req CreateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}

	widget := &models.Widget{
		WidgetID:            strings.TrimSpace(req.WidgetID),
		Name:                strings.TrimSpace(req.Name),
		Domain:              strings.TrimSpace(req.Domain),
		DefaultLocale:       strings.TrimSpace(req.DefaultLocale),
		ConsentDurationDays: req.ConsentDurationDays,
		OTPExpireMinutes:    req.OTPExpireMinutes,
		IsActive:            req.IsActive == nil || *req.IsActive,
		Activities:          buildWidgetActivities(req.Activities),
	}

	if err := h.WidgetService.Create(widget); err != nil {
		if errors.Is(err, service.ErrWidgetIDExists) {
			respondError(c, response.CodeBadRequest, "widget_id 已存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "Widget 创建失败", err)
		return
	}

	response.Success(c, widget)
}

// UpdateWidget 更新 Widget 基础信息
func (h *Handler) UpdateWidget(c *gin.Context) {
	id, ok := parseWidgetIDParam(c)
	if !ok {
		return
	}

	widget, err := h.WidgetService.GetByID(id)
	if err != nil {
		if errors.Is(err, service.ErrWidgetNotFound) {
			respondError(c, response.CodeNotFound, "Widget 不存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "Widget 查询失败", err)
		return
	}

	var req CreateWidgetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}

	widget.Name = strings.TrimSpace(req.Name)
	widget.Domain = strings.TrimSpace(req.Domain)
	widget.DefaultLocale = strings.TrimSpace(req.DefaultLocale)
	widget.ConsentDurationDays = req.ConsentDurationDays
	widget.OTPExpireMinutes = req.OTPExpireMinutes
	if req.IsActive != nil {
		widget.IsActive = *req.IsActive
	}

	if err := h.WidgetService.Update(c.Request.Context(), widget); err != nil {
		respondError(c, response.CodeInternal, "Widget 更新失败", err)
		return
	}

	response.Success(c, widget)
}

// DeleteWidget 删除 Widget
func (h *Handler) DeleteWidget(c *gin.Context) {
	id, ok := parseWidgetIDParam(c)
	if !ok {
		return
	}

	if err := h.WidgetService.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrWidgetNotFound) {
			respondError(c, response.CodeNotFound, "Widget 不存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "Widget 删除失败", err)
		return
	}

	response.Success(c, nil)
}

// ReplaceWidgetActivitiesRequest 整体替换活动集合请求
type ReplaceWidgetActivitiesRequest struct {
	Activities []WidgetActivityPayload `json:"activities" binding:"required"`
}

// ReplaceWidgetActivities 整体替换 Widget 的处理活动
func (h *Handler) ReplaceWidgetActivities(c *gin.Context) {
	id, ok := parseWidgetIDParam(c)
	if !ok {
		return
	}

	var req ReplaceWidgetActivitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}

	widget, err := h.WidgetService.ReplaceActivities(c.Request.Context(), id, buildWidgetActivities(req.Activities))
	if err != nil {
		if errors.Is(err, service.ErrWidgetNotFound) {
			respondError(c, response.CodeNotFound, "Widget 不存在", nil)
			return
		}
		respondError(c, response.CodeInternal, "活动配置保存失败", err)
		return
	}

	response.Success(c, widget)
}

func buildWidgetActivities(payloads []WidgetActivityPayload) []models.Activity {
	activities := make([]models.Activity, 0, len(payloads))
	for _, payload := range payloads {
		activities = append(activities, models.Activity{
			ActivityID:  strings.TrimSpace(payload.ActivityID),
			Name:        strings.TrimSpace(payload.Name),
			Description: payload.Description,
			Essential:   payload.Essential,
			SortOrder:   payload.SortOrder,
		})
	}
	return activities
}

func parseWidgetIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "Widget ID 不合法", nil)
		return 0, false
	}
	return uint(id), true
}
