package public

import (
	"strings"

	"github.com/consently-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetWidgetConfig 获取横幅公开配置（活动清单、有效期等）
func (h *Handler) GetWidgetConfig(c *gin.Context) {
	widgetID := strings.TrimSpace(c.Param("widget_id"))
	if widgetID == "" {
		respondError(c, response.CodeBadRequest, "widget_id 不能为空", nil)
		return
	}

	cfg, err := h.WidgetService.GetPublicConfig(c.Request.Context(), widgetID)
	if err != nil {
		respondWithMappedError(c, err, widgetLookupErrorRules, response.CodeInternal, "widget 配置获取失败")
		return
	}

	response.Success(c, cfg)
}
