package service

import (
	"context"
	"strings"
	"time"

	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/constants"
	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/repository"
)

// PreferenceService 同意偏好写入与读回服务
type PreferenceService struct {
	cfg           *config.Config
	widgetRepo    repository.WidgetRepository
	prefRepo      repository.ActivityPreferenceRepository
	challengeRepo repository.EmailVerifyChallengeRepository
	recordService *ConsentRecordService
}

// NewPreferenceService 创建同意偏好服务
func NewPreferenceService(cfg *config.Config, widgetRepo repository.WidgetRepository, prefRepo repository.ActivityPreferenceRepository, challengeRepo repository.EmailVerifyChallengeRepository, recordService *ConsentRecordService) *PreferenceService {
	return &PreferenceService{
		cfg:           cfg,
		widgetRepo:    widgetRepo,
		prefRepo:      prefRepo,
		challengeRepo: challengeRepo,
		recordService: recordService,
	}
}

// BulkUpdateInput 批量写入请求
type BulkUpdateInput struct {
	VisitorID    string
	WidgetID     string
	Action       string            // accept_all/reject_all/custom
	Preferences  map[string]string // custom 时的 activity_id -> 目标状态
	VisitorEmail string            // 可选，已验证邮箱
	DeviceType   string
	Locale       string
	Metadata     models.JSON
}

// BulkUpdateResult 批量写入结果
type BulkUpdateResult struct {
	ConsentID     string
	OverallStatus string
	UpdatedCount  int
	ExpiresAt     time.Time
	Preferences   []models.ActivityPreference
}

// BulkUpdate 批量写入同意偏好。
// 目标状态由操作类型与库中既有状态共同决定：此前已接受的活动被拒绝时
// 落库为 withdrawn（撤回），从未接受过的落库为 rejected，二者审计含义不同。
// 整批活动必须都属于该 widget，任一未知活动导致整批拒绝。
func (s *PreferenceService) BulkUpdate(ctx context.Context, input BulkUpdateInput) (*BulkUpdateResult, error) {
	widget, err := s.widgetRepo.GetByWidgetID(input.WidgetID)
	if err != nil {
		return nil, err
	}
	if widget == nil {
		return nil, ErrWidgetNotFound
	}
	if !widget.IsActive {
		return nil, ErrWidgetInactive
	}

	action := strings.ToLower(strings.TrimSpace(input.Action))
	switch action {
	case constants.ConsentActionAcceptAll, constants.ConsentActionRejectAll, constants.ConsentActionCustom:
	default:
		return nil, ErrInvalidAction
	}
	if action == constants.ConsentActionCustom && len(input.Preferences) == 0 {
		return nil, ErrEmptyBatch
	}

	known := make(map[string]bool, len(widget.Activities))
	for _, activity := range widget.Activities {
		known[activity.ActivityID] = true
	}

	existing, err := s.prefRepo.ListByVisitor(input.VisitorID, input.WidgetID)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]string, len(existing))
	for _, pref := range existing {
		prior[pref.ActivityID] = pref.ConsentStatus
	}

	targets, err := resolveTargetStatuses(action, input.Preferences, widget.Activities, known, prior)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrEmptyBatch
	}

	emailHash, err := s.resolveVerifiedEmailHash(input.VisitorEmail, input.WidgetID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	consentID, err := ResolveConsentID(input.WidgetID, input.VisitorID, emailHash, now)
	if err != nil {
		return nil, err
	}
	expiresAt := now.Add(time.Duration(resolveConsentDurationDays(s.cfg.Consent, widget)) * 24 * time.Hour)

	prefs := make([]models.ActivityPreference, 0, len(targets))
	for activityID, status := range targets {
		prefs = append(prefs, models.ActivityPreference{
			VisitorID:     input.VisitorID,
			WidgetID:      input.WidgetID,
			ActivityID:    activityID,
			ConsentStatus: status,
			ConsentID:     consentID,
			EmailHash:     emailHash,
			DeviceType:    input.DeviceType,
			Locale:        input.Locale,
			Metadata:      input.Metadata,
			ExpiresAt:     expiresAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err := s.prefRepo.UpsertBatch(prefs); err != nil {
		return nil, err
	}

	overall, revokedAt, reason := aggregateOverallStatus(action, targets, now)
	record := &models.ConsentRecord{
		ConsentID:        consentID,
		VisitorID:        input.VisitorID,
		WidgetID:         input.WidgetID,
		Action:           action,
		OverallStatus:    overall,
		EmailHash:        emailHash,
		DeviceType:       input.DeviceType,
		Locale:           input.Locale,
		RevokedAt:        revokedAt,
		RevocationReason: reason,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
	}
	for activityID, status := range targets {
		if status == constants.ConsentStatusAccepted {
			record.ConsentedActivities = append(record.ConsentedActivities, activityID)
		} else {
			record.RejectedActivities = append(record.RejectedActivities, activityID)
		}
	}
	// 投影失败不回滚偏好写入，由记录服务自行记日志并重试
	if s.recordService != nil {
		s.recordService.Project(ctx, record)
	}

	updated, err := s.prefRepo.ListByVisitor(input.VisitorID, input.WidgetID)
	if err != nil {
		logger.Warnw("preference_readback_failed", "visitor_id", input.VisitorID, "error", err)
		updated = prefs
	}

	return &BulkUpdateResult{
		ConsentID:     consentID,
		OverallStatus: overall,
		UpdatedCount:  len(prefs),
		ExpiresAt:     expiresAt,
		Preferences:   updated,
	}, nil
}

// ListPreferences 读取访客在某 widget 下的权威偏好
func (s *PreferenceService) ListPreferences(visitorID, widgetID string) ([]models.ActivityPreference, error) {
	widget, err := s.widgetRepo.GetByWidgetID(widgetID)
	if err != nil {
		return nil, err
	}
	if widget == nil {
		return nil, ErrWidgetNotFound
	}
	return s.prefRepo.ListByVisitor(visitorID, widgetID)
}

// resolveVerifiedEmailHash 仅在邮箱确实完成过验证时返回哈希，
// 未验证的邮箱不写入关联（防止伪造跨设备绑定）。
func (s *PreferenceService) resolveVerifiedEmailHash(email, widgetID string) (*string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return nil, nil
	}
	normalized, err := normalizeEmail(trimmed)
	if err != nil {
		return nil, err
	}
	hash := HashEmail(normalized)
	record, err := s.challengeRepo.GetLatest(hash, widgetID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.VerifiedAt == nil {
		return nil, nil
	}
	return &hash, nil
}

func resolveTargetStatuses(action string, requested map[string]string, activities []models.Activity, known map[string]bool, prior map[string]string) (map[string]string, error) {
	targets := make(map[string]string)
	switch action {
	case constants.ConsentActionAcceptAll:
		for _, activity := range activities {
			targets[activity.ActivityID] = constants.ConsentStatusAccepted
		}
	case constants.ConsentActionRejectAll:
		for _, activity := range activities {
			targets[activity.ActivityID] = deriveNegativeStatus(prior[activity.ActivityID])
		}
	case constants.ConsentActionCustom:
		for activityID, status := range requested {
			if !known[activityID] {
				return nil, ErrUnknownActivity
			}
			switch strings.ToLower(strings.TrimSpace(status)) {
			case constants.ConsentStatusAccepted:
				targets[activityID] = constants.ConsentStatusAccepted
			case constants.ConsentStatusRejected, constants.ConsentStatusWithdrawn:
				// 撤回与拒绝的区分以库中状态为准，不信任调用方给的值
				targets[activityID] = deriveNegativeStatus(prior[activityID])
			default:
				return nil, ErrInvalidAction
			}
		}
	}
	return targets, nil
}

// deriveNegativeStatus 负向状态推导：此前已接受的是撤回，其余是拒绝
func deriveNegativeStatus(priorStatus string) string {
	if priorStatus == constants.ConsentStatusAccepted {
		return constants.ConsentStatusWithdrawn
	}
	return constants.ConsentStatusRejected
}

// aggregateOverallStatus 聚合整体状态。
// 仅当整批活动全部为撤回时整体才是 revoked 并记录撤回时间；
// 撤回与拒绝混合且无接受的批次是 rejected（部分活动从未被授权过，不构成整体撤销）。
func aggregateOverallStatus(action string, targets map[string]string, now time.Time) (string, *time.Time, string) {
	accepted, rejected, withdrawn := 0, 0, 0
	for _, status := range targets {
		switch status {
		case constants.ConsentStatusAccepted:
			accepted++
		case constants.ConsentStatusWithdrawn:
			withdrawn++
		default:
			rejected++
		}
	}

	if withdrawn > 0 && withdrawn == len(targets) {
		revokedAt := now
		reason := constants.RevocationReasonUserWithdrew
		if action == constants.ConsentActionRejectAll {
			reason = constants.RevocationReasonUserRejectedAll
		}
		return constants.ConsentOverallRevoked, &revokedAt, reason
	}
	if accepted > 0 && rejected == 0 && withdrawn == 0 {
		return constants.ConsentOverallAccepted, nil, ""
	}
	if accepted == 0 {
		return constants.ConsentOverallRejected, nil, ""
	}
	return constants.ConsentOverallPartial, nil, ""
}
