package models

import "time"

// ActivityPreference 单活动同意偏好（(visitor, widget, activity) 唯一，一行为当前权威状态）
type ActivityPreference struct {
	ID            uint      `gorm:"primarykey" json:"id"`                                                // 主键
	VisitorID     string    `gorm:"uniqueIndex:idx_visitor_widget_activity;not null" json:"visitor_id"`  // 访客ID
	WidgetID      string    `gorm:"uniqueIndex:idx_visitor_widget_activity;not null" json:"widget_id"`   // Widget 标识
	ActivityID    string    `gorm:"uniqueIndex:idx_visitor_widget_activity;not null" json:"activity_id"` // 活动标识
	ConsentStatus string    `gorm:"not null" json:"consent_status"`                                      // accepted/rejected/withdrawn
	ConsentID     string    `gorm:"index;not null" json:"consent_id"`                                    // 本次写入关联的同意ID
	EmailHash     *string   `gorm:"index" json:"email_hash"`                                             // 已验证邮箱哈希（匿名时为空）
	DeviceType    string    `gorm:"type:varchar(32)" json:"device_type"`                                 // 设备类型
	Locale        string    `gorm:"type:varchar(16)" json:"locale"`                                      // 语言
	Metadata      JSON      `gorm:"type:json" json:"metadata"`                                           // 附加元数据
	ExpiresAt     time.Time `gorm:"index" json:"expires_at"`                                             // 同意到期时间
	CreatedAt     time.Time `json:"created_at"`                                                          // 创建时间
	UpdatedAt     time.Time `gorm:"index" json:"updated_at"`                                             // 更新时间
}

// TableName 指定表名
func (ActivityPreference) TableName() string {
	return "activity_preferences"
}
