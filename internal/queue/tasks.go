package queue

import (
	"encoding/json"
	"time"

	"github.com/consently-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskConsentRecordRetry 同意记录投影重试任务
	TaskConsentRecordRetry = constants.TaskConsentRecordRetry
)

// ConsentRecordRetryPayload 同意记录投影重试任务载荷
type ConsentRecordRetryPayload struct {
	ConsentID           string     `json:"consent_id"`
	VisitorID           string     `json:"visitor_id"`
	WidgetID            string     `json:"widget_id"`
	Action              string     `json:"action"`
	OverallStatus       string     `json:"overall_status"`
	ConsentedActivities []string   `json:"consented_activities"`
	RejectedActivities  []string   `json:"rejected_activities"`
	EmailHash           *string    `json:"email_hash"`
	DeviceType          string     `json:"device_type"`
	Locale              string     `json:"locale"`
	RevokedAt           *time.Time `json:"revoked_at"`
	RevocationReason    string     `json:"revocation_reason"`
	ExpiresAt           time.Time  `json:"expires_at"`
	OccurredAt          time.Time  `json:"occurred_at"`
}

// NewConsentRecordRetryTask 创建同意记录投影重试任务
func NewConsentRecordRetryTask(payload ConsentRecordRetryPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsentRecordRetry, body), nil
}
