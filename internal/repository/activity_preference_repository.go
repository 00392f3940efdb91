package repository

import (
	"github.com/consently-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActivityPreferenceRepository 同意偏好数据访问接口
type ActivityPreferenceRepository interface {
	UpsertBatch(prefs []models.ActivityPreference) error
	ListByVisitor(visitorID, widgetID string) ([]models.ActivityPreference, error)
	CountDistinctVisitorsByEmailHash(emailHash, widgetID string) (int64, error)
}

// GormActivityPreferenceRepository GORM 实现
type GormActivityPreferenceRepository struct {
	db *gorm.DB
}

// NewActivityPreferenceRepository 创建同意偏好仓库
func NewActivityPreferenceRepository(db *gorm.DB) *GormActivityPreferenceRepository {
	return &GormActivityPreferenceRepository{db: db}
}

// UpsertBatch 批量写入偏好。整批走单条带冲突子句的语句，
// 以 (visitor_id, widget_id, activity_id) 唯一键去重，并发时后写覆盖。
func (r *GormActivityPreferenceRepository) UpsertBatch(prefs []models.ActivityPreference) error {
	if len(prefs) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "visitor_id"},
			{Name: "widget_id"},
			{Name: "activity_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"consent_status",
			"consent_id",
			"email_hash",
			"device_type",
			"locale",
			"metadata",
			"expires_at",
			"updated_at",
		}),
	}).Create(&prefs).Error
}

// ListByVisitor 查询访客在某 Widget 下的全部偏好
func (r *GormActivityPreferenceRepository) ListByVisitor(visitorID, widgetID string) ([]models.ActivityPreference, error) {
	var prefs []models.ActivityPreference
	if err := r.db.Where("visitor_id = ? AND widget_id = ?", visitorID, widgetID).
		Order("activity_id asc").
		Find(&prefs).Error; err != nil {
		return nil, err
	}
	return prefs, nil
}

// CountDistinctVisitorsByEmailHash 统计同一已验证邮箱关联的去重访客数（跨设备数）
func (r *GormActivityPreferenceRepository) CountDistinctVisitorsByEmailHash(emailHash, widgetID string) (int64, error) {
	var count int64
	if err := r.db.Model(&models.ActivityPreference{}).
		Where("email_hash = ? AND widget_id = ?", emailHash, widgetID).
		Distinct("visitor_id").
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
