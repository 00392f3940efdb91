package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailVerifyChallenge 邮箱验证挑战记录
type EmailVerifyChallenge struct {
	ID           uint           `gorm:"primarykey" json:"id"`                                        // 主键
	EmailHash    string         `gorm:"index:idx_challenge_email_widget;not null" json:"email_hash"` // 邮箱哈希（SHA-256 十六进制，不存明文）
	WidgetID     string         `gorm:"index:idx_challenge_email_widget;not null" json:"widget_id"`  // 所属 Widget
	VisitorID    string         `gorm:"index;not null" json:"visitor_id"`                            // 发起设备的访客ID
	OTPCode      string         `gorm:"not null" json:"-"`                                           // 验证码（不返回给前端）
	ExpiresAt    time.Time      `gorm:"index" json:"expires_at"`                                     // 过期时间
	VerifiedAt   *time.Time     `gorm:"index" json:"verified_at"`                                    // 验证时间
	AttemptCount int            `gorm:"default:0" json:"attempt_count"`                              // 校验失败次数
	SentAt       time.Time      `gorm:"index" json:"sent_at"`                                        // 发送时间
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`                                     // 创建时间
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`                                              // 软删除时间
}

// TableName 指定表名
func (EmailVerifyChallenge) TableName() string {
	return "email_verify_challenges"
}
