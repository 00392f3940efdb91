package repository

import (
	"errors"

	"github.com/consently-next/internal/models"

	"gorm.io/gorm"
)

// WidgetRepository Widget 数据访问接口
type WidgetRepository interface {
	Create(widget *models.Widget) error
	Update(widget *models.Widget) error
	Delete(id uint) error
	GetByID(id uint) (*models.Widget, error)
	GetByWidgetID(widgetID string) (*models.Widget, error)
	List(filter WidgetListFilter) ([]models.Widget, int64, error)
	ReplaceActivities(widgetRef uint, activities []models.Activity) error
}

// GormWidgetRepository GORM 实现
type GormWidgetRepository struct {
	db *gorm.DB
}

// NewWidgetRepository 创建 Widget 仓库
func NewWidgetRepository(db *gorm.DB) *GormWidgetRepository {
	return &GormWidgetRepository{db: db}
}

// Create 创建 Widget
func (r *GormWidgetRepository) Create(widget *models.Widget) error {
	return r.db.Create(widget).Error
}

// Update 更新 Widget
func (r *GormWidgetRepository) Update(widget *models.Widget) error {
	return r.db.Save(widget).Error
}

// Delete 删除 Widget 及其活动
func (r *GormWidgetRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("widget_ref = ?", id).Delete(&models.Activity{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Widget{}, id).Error
	})
}

// GetByID 按主键获取 Widget（含活动）
func (r *GormWidgetRepository) GetByID(id uint) (*models.Widget, error) {
	var widget models.Widget
	if err := r.db.Preload("Activities", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order asc, id asc")
	}).First(&widget, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &widget, nil
}

// GetByWidgetID 按对外标识获取 Widget（含活动）
func (r *GormWidgetRepository) GetByWidgetID(widgetID string) (*models.Widget, error) {
	var widget models.Widget
	if err := r.db.Preload("Activities", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order asc, id asc")
	}).Where("widget_id = ?", widgetID).First(&widget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &widget, nil
}

// List 分页查询 Widget 列表
func (r *GormWidgetRepository) List(filter WidgetListFilter) ([]models.Widget, int64, error) {
	query := r.db.Model(&models.Widget{})
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("name LIKE ? OR widget_id LIKE ? OR domain LIKE ?", like, like, like)
	}
	if filter.IsActive != nil {
		query = query.Where("is_active = ?", *filter.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var widgets []models.Widget
	if err := applyPagination(query.Preload("Activities"), filter.Page, filter.PageSize).
		Order("created_at desc").
		Find(&widgets).Error; err != nil {
		return nil, 0, err
	}
	return widgets, total, nil
}

// ReplaceActivities 整体替换 Widget 的活动集合
func (r *GormWidgetRepository) ReplaceActivities(widgetRef uint, activities []models.Activity) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("widget_ref = ?", widgetRef).Delete(&models.Activity{}).Error; err != nil {
			return err
		}
		if len(activities) == 0 {
			return nil
		}
		for i := range activities {
			activities[i].WidgetRef = widgetRef
		}
		return tx.Create(&activities).Error
	})
}
