package worker

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/provider"
	"github.com/consently-next/internal/queue"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskConsentRecordRetry, c.handleConsentRecordRetry)
}

// handleConsentRecordRetry 重放同意记录投影。
// 投影是仅追加的，重复投递由消费端按 (consent_id, occurred_at) 去重。
func (c *Consumer) handleConsentRecordRetry(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_consent_record_retry_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.ConsentRecordRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_consent_record_retry_unmarshal_failed", "error", err)
		return err
	}
	if !isValidConsentRecordRetryPayload(payload) {
		logger.Debugw("worker_consent_record_retry_skip_invalid_payload",
			"consent_id", payload.ConsentID,
			"visitor_id", payload.VisitorID,
			"widget_id", payload.WidgetID,
		)
		return nil
	}
	if c.ConsentRecordService == nil {
		logger.Warnw("worker_consent_record_retry_skip_service_nil", "consent_id", payload.ConsentID)
		return nil
	}
	if err := c.ConsentRecordService.ProjectFromPayload(payload); err != nil {
		logger.Warnw("worker_consent_record_retry_failed",
			"consent_id", payload.ConsentID,
			"visitor_id", payload.VisitorID,
			"widget_id", payload.WidgetID,
			"action", payload.Action,
			"error", err,
		)
		return err
	}
	return nil
}

func isValidConsentRecordRetryPayload(payload queue.ConsentRecordRetryPayload) bool {
	if strings.TrimSpace(payload.ConsentID) == "" {
		return false
	}
	if strings.TrimSpace(payload.VisitorID) == "" || strings.TrimSpace(payload.WidgetID) == "" {
		return false
	}
	return payload.OccurredAt.Unix() > 0
}
