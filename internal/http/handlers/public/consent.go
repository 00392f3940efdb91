package public

import (
	"errors"
	"strings"

	"github.com/consently-next/internal/constants"
	"github.com/consently-next/internal/http/response"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/service"

	"github.com/gin-gonic/gin"
)

// RequestOTPRequest 发起邮箱验证请求
type RequestOTPRequest struct {
	Email          string                `json:"email" binding:"required"`
	VisitorID      string                `json:"visitor_id" binding:"required"`
	WidgetID       string                `json:"widget_id" binding:"required"`
	CaptchaPayload CaptchaPayloadRequest `json:"captcha_payload"`
}

// RequestOTP 发起邮箱验证挑战，发送一次性验证码
func (h *Handler) RequestOTP(c *gin.Context) {
	var req RequestOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}
	if h.CaptchaService != nil {
		if captchaErr := h.CaptchaService.Verify(constants.CaptchaSceneRequestOTP, req.CaptchaPayload.toServicePayload()); captchaErr != nil {
			respondCaptchaError(c, captchaErr)
			return
		}
	}

	result, err := h.OTPService.RequestChallenge(c.Request.Context(), req.Email, strings.TrimSpace(req.VisitorID), strings.TrimSpace(req.WidgetID))
	if err != nil {
		var rateErr *service.RateLimitedError
		if errors.As(err, &rateErr) {
			response.RateLimited(c, rateErr.Error(), rateErr.RetryAfterSeconds)
			return
		}
		respondWithMappedError(c, err, otpRequestErrorRules, response.CodeInternal, "验证码发送失败")
		return
	}

	response.Success(c, gin.H{
		"expires_at":         result.ExpiresAt,
		"expires_in_minutes": result.ExpiresInMinutes,
	})
}

// VerifyOTPRequest 校验验证码请求
type VerifyOTPRequest struct {
	Email     string `json:"email" binding:"required"`
	OTPCode   string `json:"otp_code" binding:"required"`
	VisitorID string `json:"visitor_id" binding:"required"`
	WidgetID  string `json:"widget_id" binding:"required"`
}

// OTP 校验失败的机器可读子码，客户端据此选择重输验证码或重走流程
const (
	otpFailureCodeInvalid     = "INVALID_OTP"
	otpFailureCodeMaxAttempts = "MAX_ATTEMPTS_EXCEEDED"
	otpFailureCodeNotFound    = "OTP_NOT_FOUND"
	otpFailureCodeExpired     = "OTP_EXPIRED"
)

// VerifyOTP 校验一次性验证码并返回邮箱哈希与已关联设备数
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}

	result, err := h.OTPService.VerifyChallenge(c.Request.Context(), req.Email, req.OTPCode, strings.TrimSpace(req.VisitorID), strings.TrimSpace(req.WidgetID))
	if err != nil {
		var invalidErr *service.InvalidCodeError
		switch {
		case errors.As(err, &invalidErr):
			response.ErrorWithData(c, response.CodeBadRequest, invalidErr.Error(), gin.H{
				"code":               otpFailureCodeInvalid,
				"remaining_attempts": invalidErr.RemainingAttempts,
			})
		case errors.Is(err, service.ErrChallengeMaxAttempts):
			response.ErrorWithData(c, response.CodeBadRequest, "验证码错误次数过多，请重新获取", gin.H{
				"code": otpFailureCodeMaxAttempts,
			})
		case errors.Is(err, service.ErrChallengeNotFound):
			response.ErrorWithData(c, response.CodeNotFound, "验证码不存在或已使用", gin.H{
				"code": otpFailureCodeNotFound,
			})
		case errors.Is(err, service.ErrChallengeExpired):
			response.ErrorWithData(c, response.CodeBadRequest, "验证码已过期，请重新获取", gin.H{
				"code": otpFailureCodeExpired,
			})
		default:
			respondWithMappedError(c, err, otpVerifyErrorRules, response.CodeInternal, "验证码校验失败")
		}
		return
	}

	response.Success(c, gin.H{
		"verified":       true,
		"email_hash":     result.EmailHash,
		"linked_devices": result.LinkedDevices,
	})
}

// BulkPreferencesRequest 批量写入同意偏好请求
type BulkPreferencesRequest struct {
	VisitorID    string            `json:"visitor_id" binding:"required"`
	WidgetID     string            `json:"widget_id" binding:"required"`
	Action       string            `json:"action" binding:"required"`
	Preferences  map[string]string `json:"preferences"`
	VisitorEmail string            `json:"visitor_email"`
	DeviceType   string            `json:"device_type"`
	Locale       string            `json:"locale"`
	Metadata     models.JSON       `json:"metadata"`
}

// BulkUpdatePreferences 批量写入同意偏好并追加同意记录
func (h *Handler) BulkUpdatePreferences(c *gin.Context) {
	var req BulkPreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "请求参数不合法", err)
		return
	}

	result, err := h.PreferenceService.BulkUpdate(c.Request.Context(), service.BulkUpdateInput{
		VisitorID:    strings.TrimSpace(req.VisitorID),
		WidgetID:     strings.TrimSpace(req.WidgetID),
		Action:       req.Action,
		Preferences:  req.Preferences,
		VisitorEmail: req.VisitorEmail,
		DeviceType:   normalizeDeviceType(req.DeviceType),
		Locale:       strings.TrimSpace(req.Locale),
		Metadata:     req.Metadata,
	})
	if err != nil {
		respondWithMappedError(c, err, preferenceUpdateErrorRules, response.CodeInternal, "同意偏好保存失败")
		return
	}

	response.Success(c, gin.H{
		"consent_id":     result.ConsentID,
		"overall_status": result.OverallStatus,
		"updated_count":  result.UpdatedCount,
		"expires_at":     result.ExpiresAt,
		"preferences":    buildPreferenceItems(result.Preferences),
	})
}

// GetPreferences 读取访客在指定 widget 下的权威偏好
func (h *Handler) GetPreferences(c *gin.Context) {
	visitorID := strings.TrimSpace(c.Query("visitor_id"))
	widgetID := strings.TrimSpace(c.Query("widget_id"))
	if visitorID == "" || widgetID == "" {
		respondError(c, response.CodeBadRequest, "visitor_id 与 widget_id 不能为空", nil)
		return
	}

	prefs, err := h.PreferenceService.ListPreferences(visitorID, widgetID)
	if err != nil {
		respondWithMappedError(c, err, widgetLookupErrorRules, response.CodeInternal, "同意偏好查询失败")
		return
	}

	response.Success(c, gin.H{
		"visitor_id":  visitorID,
		"widget_id":   widgetID,
		"preferences": buildPreferenceItems(prefs),
	})
}

// PreferenceItem 偏好响应项
type PreferenceItem struct {
	ActivityID    string      `json:"activity_id"`
	ConsentStatus string      `json:"consent_status"`
	ConsentID     string      `json:"consent_id"`
	DeviceType    string      `json:"device_type,omitempty"`
	Locale        string      `json:"locale,omitempty"`
	Metadata      models.JSON `json:"metadata,omitempty"`
	ExpiresAt     string      `json:"expires_at"`
	UpdatedAt     string      `json:"updated_at"`
}

func buildPreferenceItems(prefs []models.ActivityPreference) []PreferenceItem {
	items := make([]PreferenceItem, 0, len(prefs))
	for _, pref := range prefs {
		items = append(items, PreferenceItem{
			ActivityID:    pref.ActivityID,
			ConsentStatus: pref.ConsentStatus,
			ConsentID:     pref.ConsentID,
			DeviceType:    pref.DeviceType,
			Locale:        pref.Locale,
			Metadata:      pref.Metadata,
			ExpiresAt:     pref.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:     pref.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return items
}

func normalizeDeviceType(deviceType string) string {
	switch strings.ToLower(strings.TrimSpace(deviceType)) {
	case constants.DeviceTypeMobile:
		return constants.DeviceTypeMobile
	case constants.DeviceTypeTablet:
		return constants.DeviceTypeTablet
	case constants.DeviceTypeDesktop:
		return constants.DeviceTypeDesktop
	default:
		return constants.DeviceTypeUnknown
	}
}

func respondCaptchaError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCaptchaRequired):
		respondError(c, response.CodeBadRequest, "请完成验证码校验", nil)
	case errors.Is(err, service.ErrCaptchaInvalid):
		respondError(c, response.CodeBadRequest, "验证码不正确", nil)
	case errors.Is(err, service.ErrCaptchaConfigInvalid):
		respondError(c, response.CodeInternal, "验证码配置不正确", err)
	default:
		respondError(c, response.CodeInternal, "验证码校验失败", err)
	}
}
