package repository

import (
	"github.com/consently-next/internal/models"

	"gorm.io/gorm"
)

// ConsentRecordRepository 同意记录数据访问接口（仅插入与查询，不支持更新）
type ConsentRecordRepository interface {
	Create(record *models.ConsentRecord) error
	ListByVisitor(visitorID, widgetID string, limit int) ([]models.ConsentRecord, error)
	List(filter ConsentRecordListFilter) ([]models.ConsentRecord, int64, error)
}

// GormConsentRecordRepository GORM 实现
type GormConsentRecordRepository struct {
	db *gorm.DB
}

// NewConsentRecordRepository 创建同意记录仓库
func NewConsentRecordRepository(db *gorm.DB) *GormConsentRecordRepository {
	return &GormConsentRecordRepository{db: db}
}

// Create 追加同意记录
func (r *GormConsentRecordRepository) Create(record *models.ConsentRecord) error {
	return r.db.Create(record).Error
}

// ListByVisitor 查询访客的同意记录（按时间倒序）
func (r *GormConsentRecordRepository) ListByVisitor(visitorID, widgetID string, limit int) ([]models.ConsentRecord, error) {
	query := r.db.Where("visitor_id = ? AND widget_id = ?", visitorID, widgetID).
		Order("created_at desc, id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []models.ConsentRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// List 分页查询同意记录（审计用）
func (r *GormConsentRecordRepository) List(filter ConsentRecordListFilter) ([]models.ConsentRecord, int64, error) {
	query := r.db.Model(&models.ConsentRecord{})
	if filter.WidgetID != "" {
		query = query.Where("widget_id = ?", filter.WidgetID)
	}
	if filter.VisitorID != "" {
		query = query.Where("visitor_id = ?", filter.VisitorID)
	}
	if filter.ConsentID != "" {
		query = query.Where("consent_id = ?", filter.ConsentID)
	}
	if filter.OverallStatus != "" {
		query = query.Where("overall_status = ?", filter.OverallStatus)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []models.ConsentRecord
	if err := applyPagination(query, filter.Page, filter.PageSize).
		Order("created_at desc, id desc").
		Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
