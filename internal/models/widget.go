package models

import (
	"time"

	"gorm.io/gorm"
)

// Widget 同意横幅配置
type Widget struct {
	ID                  uint           `gorm:"primarykey" json:"id"`                    // 主键
	WidgetID            string         `gorm:"uniqueIndex;not null" json:"widget_id"`   // 对外标识（嵌入脚本使用）
	Name                string         `gorm:"not null" json:"name"`                    // 名称
	Domain              string         `gorm:"type:varchar(255)" json:"domain"`         // 绑定域名
	IsActive            bool           `gorm:"default:true;index" json:"is_active"`     // 是否启用
	ConsentDurationDays int            `gorm:"default:0" json:"consent_duration_days"`  // 同意有效期（天），0 表示使用全局默认
	OTPExpireMinutes    int            `gorm:"default:0" json:"otp_expire_minutes"`     // 验证码有效期（分钟），0 表示使用全局默认
	DefaultLocale       string         `gorm:"type:varchar(16)" json:"default_locale"`  // 默认语言
	Activities          []Activity     `gorm:"foreignKey:WidgetRef" json:"activities"`  // 同意活动列表
	CreatedAt           time.Time      `gorm:"index" json:"created_at"`                 // 创建时间
	UpdatedAt           time.Time      `json:"updated_at"`                              // 更新时间
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`                          // 软删除时间
}

// TableName 指定表名
func (Widget) TableName() string {
	return "widgets"
}

// Activity 同意活动（数据处理目的）
type Activity struct {
	ID          uint           `gorm:"primarykey" json:"id"`                                       // 主键
	WidgetRef   uint           `gorm:"uniqueIndex:idx_widget_activity;not null" json:"widget_ref"` // 所属 Widget
	ActivityID  string         `gorm:"uniqueIndex:idx_widget_activity;not null" json:"activity_id"` // 活动标识（如 analytics/marketing）
	Name        string         `gorm:"not null" json:"name"`                                       // 名称
	Description string         `gorm:"type:text" json:"description"`                               // 描述
	Essential   bool           `gorm:"default:false" json:"essential"`                             // 是否必要（必要活动不可拒绝）
	SortOrder   int            `gorm:"default:0;index" json:"sort_order"`                          // 排序权重
	CreatedAt   time.Time      `json:"created_at"`                                                 // 创建时间
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`                                             // 软删除时间
}

// TableName 指定表名
func (Activity) TableName() string {
	return "activities"
}
