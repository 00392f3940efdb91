package service

import (
	"errors"
	"fmt"
)

// 服务层通用错误
var (
	ErrNotFound           = errors.New("记录不存在")
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	ErrInvalidPassword    = errors.New("密码错误")
	ErrWeakPassword       = errors.New("密码强度不足")
	ErrInvalidEmail       = errors.New("邮箱格式不正确")
)

// 邮件服务错误
var (
	ErrEmailServiceDisabled      = errors.New("邮件服务未启用")
	ErrEmailServiceNotConfigured = errors.New("邮件服务未配置")
	ErrEmailRecipientRejected    = errors.New("收件人被拒绝")
	ErrSMTPConfigInvalid         = errors.New("SMTP 配置不合法")
	ErrEmailSendFailed           = errors.New("验证码邮件发送失败")
)

// 验证码（captcha）错误
var (
	ErrCaptchaRequired      = errors.New("需要人机验证")
	ErrCaptchaInvalid       = errors.New("人机验证未通过")
	ErrCaptchaVerifyFailed  = errors.New("人机验证校验失败")
	ErrCaptchaConfigInvalid = errors.New("人机验证配置不合法")
)

// Widget 错误
var (
	ErrWidgetNotFound = errors.New("widget 不存在")
	ErrWidgetInactive = errors.New("widget 已停用")
	ErrWidgetIDExists = errors.New("widget 标识已存在")
)

// 邮箱验证挑战错误
var (
	ErrChallengeNotFound    = errors.New("验证码不存在或已失效")
	ErrChallengeExpired     = errors.New("验证码已过期")
	ErrChallengeMaxAttempts = errors.New("验证码失败次数超限")
)

// 同意偏好错误
var (
	ErrUnknownActivity = errors.New("活动不属于该 widget")
	ErrInvalidAction   = errors.New("不支持的操作类型")
	ErrEmptyBatch      = errors.New("偏好列表不能为空")
)

// RateLimitedError 发送限流错误，携带恢复等待秒数
type RateLimitedError struct {
	RetryAfterSeconds int
}

// Error 实现 error 接口
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("发送过于频繁，请 %d 秒后重试", e.RetryAfterSeconds)
}

// InvalidCodeError 验证码不匹配错误，携带剩余尝试次数
type InvalidCodeError struct {
	RemainingAttempts int
}

// Error 实现 error 接口
func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("验证码错误，剩余 %d 次尝试机会", e.RemainingAttempts)
}
