package models

import "time"

// ConsentRecord 同意记录投影（仅插入，审计链，不参与偏好读路径）
type ConsentRecord struct {
	ID                  uint        `gorm:"primarykey" json:"id"`                    // 主键
	ConsentID           string      `gorm:"index;not null" json:"consent_id"`        // 同意ID
	VisitorID           string      `gorm:"index;not null" json:"visitor_id"`        // 访客ID
	WidgetID            string      `gorm:"index;not null" json:"widget_id"`         // Widget 标识
	Action              string      `gorm:"not null" json:"action"`                  // accept_all/reject_all/custom
	OverallStatus       string      `gorm:"index;not null" json:"overall_status"`    // accepted/rejected/partial/revoked
	ConsentedActivities StringArray `gorm:"type:json" json:"consented_activities"`   // 接受的活动ID列表
	RejectedActivities  StringArray `gorm:"type:json" json:"rejected_activities"`    // 拒绝/撤回的活动ID列表
	EmailHash           *string     `gorm:"index" json:"email_hash"`                 // 已验证邮箱哈希（匿名时为空）
	DeviceType          string      `gorm:"type:varchar(32)" json:"device_type"`     // 设备类型
	Locale              string      `gorm:"type:varchar(16)" json:"locale"`          // 语言
	RevokedAt           *time.Time  `json:"revoked_at"`                              // 撤回时间（整体状态为 revoked 时设置）
	RevocationReason    string      `gorm:"type:varchar(64)" json:"revocation_reason"` // 撤回原因
	ExpiresAt           time.Time   `json:"expires_at"`                              // 同意到期时间
	CreatedAt           time.Time   `gorm:"index" json:"created_at"`                 // 创建时间
}

// TableName 指定表名
func (ConsentRecord) TableName() string {
	return "consent_records"
}
