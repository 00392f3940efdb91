package public

import (
	"errors"

	"github.com/consently-next/internal/http/response"
	"github.com/consently-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

var widgetLookupErrorRules = []mappedHandlerError{
	{target: service.ErrWidgetNotFound, code: response.CodeNotFound, msg: "widget 不存在"},
	{target: service.ErrWidgetInactive, code: response.CodeBadRequest, msg: "widget 已停用"},
}

var otpRequestErrorRules = []mappedHandlerError{
	{target: service.ErrWidgetNotFound, code: response.CodeNotFound, msg: "widget 不存在"},
	{target: service.ErrWidgetInactive, code: response.CodeBadRequest, msg: "widget 已停用"},
	{target: service.ErrInvalidEmail, code: response.CodeBadRequest, msg: "邮箱格式不正确"},
	{target: service.ErrEmailServiceDisabled, code: response.CodeInternal, msg: "邮件服务未启用"},
	{target: service.ErrEmailServiceNotConfigured, code: response.CodeInternal, msg: "邮件服务未配置"},
	{target: service.ErrEmailSendFailed, code: response.CodeInternal, msg: "验证码邮件发送失败，请稍后重试"},
}

// 挑战不存在/已过期走处理器内的专用分支（需要附带机器可读子码），这里只映射入参校验类错误
var otpVerifyErrorRules = []mappedHandlerError{
	{target: service.ErrInvalidEmail, code: response.CodeBadRequest, msg: "邮箱格式不正确"},
}

var preferenceUpdateErrorRules = []mappedHandlerError{
	{target: service.ErrWidgetNotFound, code: response.CodeNotFound, msg: "widget 不存在"},
	{target: service.ErrWidgetInactive, code: response.CodeBadRequest, msg: "widget 已停用"},
	{target: service.ErrInvalidAction, code: response.CodeBadRequest, msg: "不支持的同意操作类型"},
	{target: service.ErrUnknownActivity, code: response.CodeBadRequest, msg: "包含未知的处理活动，整批拒绝"},
	{target: service.ErrEmptyBatch, code: response.CodeBadRequest, msg: "偏好列表不能为空"},
	{target: service.ErrInvalidEmail, code: response.CodeBadRequest, msg: "邮箱格式不正确"},
}
