package constants

// 单项同意状态常量
const (
	ConsentStatusAccepted  = "accepted"
	ConsentStatusRejected  = "rejected"
	ConsentStatusWithdrawn = "withdrawn"
)

// 批量操作类型常量
const (
	ConsentActionAcceptAll = "accept_all"
	ConsentActionRejectAll = "reject_all"
	ConsentActionCustom    = "custom"
)

// 同意记录整体状态常量
const (
	ConsentOverallAccepted = "accepted"
	ConsentOverallRejected = "rejected"
	ConsentOverallPartial  = "partial"
	ConsentOverallRevoked  = "revoked"
)

// 撤回原因常量
const (
	RevocationReasonUserRejectedAll = "user_rejected_all"
	RevocationReasonUserWithdrew    = "user_withdrew_consent"
)

// 邮箱验证挑战常量
const (
	OTPCodeLength            = 6
	OTPMaxVerifyAttempts     = 3
	OTPWindowSecondsDefault  = 3600
	OTPMaxPerWindowDefault   = 3
	OTPExpireMinutesDefault  = 10
	ConsentDurationDefault   = 365
	AnonymousSuffixLength    = 5
	EmailHashPrefixHexLength = 16
)

// 设备类型常量
const (
	DeviceTypeDesktop = "desktop"
	DeviceTypeMobile  = "mobile"
	DeviceTypeTablet  = "tablet"
	DeviceTypeUnknown = "unknown"
)

// 验证码提供方常量
const (
	CaptchaProviderNone  = "none"
	CaptchaProviderImage = "image"
)

// 验证码校验场景常量
const (
	CaptchaSceneLogin      = "login"
	CaptchaSceneRequestOTP = "request_otp"
)

// 队列常量
const (
	QueueDefault           = "default"
	TaskConsentRecordRetry = "consent_record:retry"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "cst"
)

// 设置键常量
const (
	SettingKeySiteConfig    = "site_config"
	SettingKeySMTPConfig    = "smtp_config"
	SettingKeyCaptchaConfig = "captcha_config"
)
