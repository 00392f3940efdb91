package service

import (
	"context"
	"time"

	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/queue"
	"github.com/consently-next/internal/repository"
)

const consentRecordRetryDelay = 30 * time.Second

// ConsentRecordService 同意记录投影服务。
// 记录表仅追加，写失败不影响偏好主路径，转入异步队列重试。
type ConsentRecordService struct {
	recordRepo  repository.ConsentRecordRepository
	queueClient *queue.Client
}

// NewConsentRecordService 创建同意记录服务
func NewConsentRecordService(recordRepo repository.ConsentRecordRepository, queueClient *queue.Client) *ConsentRecordService {
	return &ConsentRecordService{
		recordRepo:  recordRepo,
		queueClient: queueClient,
	}
}

// Project 追加一条同意记录。失败时记日志并排队重试，不向调用方返回错误。
func (s *ConsentRecordService) Project(ctx context.Context, record *models.ConsentRecord) {
	_ = ctx
	if s == nil || record == nil {
		return
	}
	if err := s.recordRepo.Create(record); err != nil {
		logger.Errorw("consent_record_project_failed",
			"consent_id", record.ConsentID,
			"widget_id", record.WidgetID,
			"error", err,
		)
		if enqErr := s.queueClient.EnqueueConsentRecordRetry(buildRetryPayload(record), consentRecordRetryDelay); enqErr != nil {
			logger.Errorw("consent_record_retry_enqueue_failed",
				"consent_id", record.ConsentID,
				"error", enqErr,
			)
		}
	}
}

// ProjectFromPayload 从重试任务载荷重建并写入同意记录
func (s *ConsentRecordService) ProjectFromPayload(payload queue.ConsentRecordRetryPayload) error {
	record := &models.ConsentRecord{
		ConsentID:           payload.ConsentID,
		VisitorID:           payload.VisitorID,
		WidgetID:            payload.WidgetID,
		Action:              payload.Action,
		OverallStatus:       payload.OverallStatus,
		ConsentedActivities: payload.ConsentedActivities,
		RejectedActivities:  payload.RejectedActivities,
		EmailHash:           payload.EmailHash,
		DeviceType:          payload.DeviceType,
		Locale:              payload.Locale,
		RevokedAt:           payload.RevokedAt,
		RevocationReason:    payload.RevocationReason,
		ExpiresAt:           payload.ExpiresAt,
		CreatedAt:           payload.OccurredAt,
	}
	return s.recordRepo.Create(record)
}

// ListByVisitor 查询访客的同意记录
func (s *ConsentRecordService) ListByVisitor(visitorID, widgetID string, limit int) ([]models.ConsentRecord, error) {
	return s.recordRepo.ListByVisitor(visitorID, widgetID, limit)
}

// List 分页查询同意记录
func (s *ConsentRecordService) List(filter repository.ConsentRecordListFilter) ([]models.ConsentRecord, int64, error) {
	return s.recordRepo.List(filter)
}

func buildRetryPayload(record *models.ConsentRecord) queue.ConsentRecordRetryPayload {
	return queue.ConsentRecordRetryPayload{
		ConsentID:           record.ConsentID,
		VisitorID:           record.VisitorID,
		WidgetID:            record.WidgetID,
		Action:              record.Action,
		OverallStatus:       record.OverallStatus,
		ConsentedActivities: record.ConsentedActivities,
		RejectedActivities:  record.RejectedActivities,
		EmailHash:           record.EmailHash,
		DeviceType:          record.DeviceType,
		Locale:              record.Locale,
		RevokedAt:           record.RevokedAt,
		RevocationReason:    record.RevocationReason,
		ExpiresAt:           record.ExpiresAt,
		OccurredAt:          record.CreatedAt,
	}
}
