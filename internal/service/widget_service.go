package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/consently-next/internal/cache"
	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/repository"
)

const widgetConfigCacheTTL = 5 * time.Minute

// WidgetService Widget 配置服务
type WidgetService struct {
	widgetRepo repository.WidgetRepository
}

// NewWidgetService 创建 Widget 服务
func NewWidgetService(widgetRepo repository.WidgetRepository) *WidgetService {
	return &WidgetService{widgetRepo: widgetRepo}
}

// WidgetConfig 对外输出的横幅配置
type WidgetConfig struct {
	WidgetID            string               `json:"widget_id"`
	Name                string               `json:"name"`
	Domain              string               `json:"domain"`
	DefaultLocale       string               `json:"default_locale"`
	ConsentDurationDays int                  `json:"consent_duration_days"`
	OTPExpireMinutes    int                  `json:"otp_expire_minutes"`
	Activities          []WidgetActivityItem `json:"activities"`
}

// WidgetActivityItem 配置中的活动项
type WidgetActivityItem struct {
	ActivityID  string `json:"activity_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Essential   bool   `json:"essential"`
	SortOrder   int    `json:"sort_order"`
}

// GetPublicConfig 获取启用中 Widget 的公开配置（带缓存）
func (s *WidgetService) GetPublicConfig(ctx context.Context, widgetID string) (*WidgetConfig, error) {
	cacheKey := widgetConfigCacheKey(widgetID)
	var cached WidgetConfig
	if hit, err := cache.GetJSON(ctx, cacheKey, &cached); err == nil && hit {
		return &cached, nil
	}

	widget, err := s.widgetRepo.GetByWidgetID(widgetID)
	if err != nil {
		return nil, err
	}
	if widget == nil {
		return nil, ErrWidgetNotFound
	}
	if !widget.IsActive {
		return nil, ErrWidgetInactive
	}

	cfg := buildWidgetConfig(widget)
	if err := cache.SetJSON(ctx, cacheKey, cfg, widgetConfigCacheTTL); err != nil {
		logger.Warnw("widget_config_cache_set_failed", "widget_id", widgetID, "error", err)
	}
	return cfg, nil
}

// Create 创建 Widget
func (s *WidgetService) Create(widget *models.Widget) error {
	widget.WidgetID = strings.TrimSpace(widget.WidgetID)
	if widget.WidgetID == "" || strings.TrimSpace(widget.Name) == "" {
		return ErrNotFound
	}
	exist, err := s.widgetRepo.GetByWidgetID(widget.WidgetID)
	if err != nil {
		return err
	}
	if exist != nil {
		return ErrWidgetIDExists
	}
	return s.widgetRepo.Create(widget)
}

// Update 更新 Widget 并失效配置缓存
func (s *WidgetService) Update(ctx context.Context, widget *models.Widget) error {
	if err := s.widgetRepo.Update(widget); err != nil {
		return err
	}
	s.invalidateConfigCache(ctx, widget.WidgetID)
	return nil
}

// Delete 删除 Widget 并失效配置缓存
func (s *WidgetService) Delete(ctx context.Context, id uint) error {
	widget, err := s.widgetRepo.GetByID(id)
	if err != nil {
		return err
	}
	if widget == nil {
		return ErrWidgetNotFound
	}
	if err := s.widgetRepo.Delete(id); err != nil {
		return err
	}
	s.invalidateConfigCache(ctx, widget.WidgetID)
	return nil
}

// GetByID 按主键获取 Widget
func (s *WidgetService) GetByID(id uint) (*models.Widget, error) {
	widget, err := s.widgetRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if widget == nil {
		return nil, ErrWidgetNotFound
	}
	return widget, nil
}

// List 分页查询 Widget 列表
func (s *WidgetService) List(filter repository.WidgetListFilter) ([]models.Widget, int64, error) {
	return s.widgetRepo.List(filter)
}

// ReplaceActivities 整体替换活动集合并失效配置缓存
func (s *WidgetService) ReplaceActivities(ctx context.Context, id uint, activities []models.Activity) (*models.Widget, error) {
	widget, err := s.widgetRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if widget == nil {
		return nil, ErrWidgetNotFound
	}
	if err := s.widgetRepo.ReplaceActivities(id, activities); err != nil {
		return nil, err
	}
	s.invalidateConfigCache(ctx, widget.WidgetID)
	return s.widgetRepo.GetByID(id)
}

func (s *WidgetService) invalidateConfigCache(ctx context.Context, widgetID string) {
	if err := cache.Del(ctx, widgetConfigCacheKey(widgetID)); err != nil {
		logger.Warnw("widget_config_cache_del_failed", "widget_id", widgetID, "error", err)
	}
}

func widgetConfigCacheKey(widgetID string) string {
	return fmt.Sprintf("widget_config:%s", widgetID)
}

func buildWidgetConfig(widget *models.Widget) *WidgetConfig {
	cfg := &WidgetConfig{
		WidgetID:            widget.WidgetID,
		Name:                widget.Name,
		Domain:              widget.Domain,
		DefaultLocale:       widget.DefaultLocale,
		ConsentDurationDays: widget.ConsentDurationDays,
		OTPExpireMinutes:    widget.OTPExpireMinutes,
	}
	for _, activity := range widget.Activities {
		cfg.Activities = append(cfg.Activities, WidgetActivityItem{
			ActivityID:  activity.ActivityID,
			Name:        activity.Name,
			Description: activity.Description,
			Essential:   activity.Essential,
			SortOrder:   activity.SortOrder,
		})
	}
	return cfg
}
