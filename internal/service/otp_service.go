package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/logger"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/repository"
)

// OTPService 邮箱验证挑战服务
type OTPService struct {
	cfg           *config.Config
	widgetRepo    repository.WidgetRepository
	challengeRepo repository.EmailVerifyChallengeRepository
	prefRepo      repository.ActivityPreferenceRepository
	emailService  *EmailService
	limiter       ChallengeRateLimiter
}

// NewOTPService 创建邮箱验证挑战服务
func NewOTPService(cfg *config.Config, widgetRepo repository.WidgetRepository, challengeRepo repository.EmailVerifyChallengeRepository, prefRepo repository.ActivityPreferenceRepository, emailService *EmailService, limiter ChallengeRateLimiter) *OTPService {
	return &OTPService{
		cfg:           cfg,
		widgetRepo:    widgetRepo,
		challengeRepo: challengeRepo,
		prefRepo:      prefRepo,
		emailService:  emailService,
		limiter:       limiter,
	}
}

// ChallengeResult 发送挑战结果
type ChallengeResult struct {
	ExpiresAt        time.Time
	ExpiresInMinutes int
}

// VerifyResult 校验挑战结果
type VerifyResult struct {
	EmailHash     string
	LinkedDevices int64
}

// RequestChallenge 发起邮箱验证挑战：限流、生成验证码、落库后发信。
// 发信失败时补偿删除已落库的挑战，保证失败的请求不留下可验证的记录。
func (s *OTPService) RequestChallenge(ctx context.Context, email, visitorID, widgetID string) (*ChallengeResult, error) {
	if s.emailService == nil {
		return nil, ErrEmailServiceNotConfigured
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
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

	emailHash := HashEmail(normalized)
	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.Allow(ctx, emailHash, widgetID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	code, err := randomNumericCode(resolveOTPCodeLength(s.cfg.Consent))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expireMinutes := resolveOTPExpireMinutes(s.cfg.Consent, widget)
	challenge := &models.EmailVerifyChallenge{
		EmailHash: emailHash,
		WidgetID:  widgetID,
		VisitorID: visitorID,
		OTPCode:   code,
		ExpiresAt: now.Add(time.Duration(expireMinutes) * time.Minute),
		SentAt:    now,
		CreatedAt: now,
	}
	if err := s.challengeRepo.Create(challenge); err != nil {
		return nil, err
	}

	if err := s.emailService.SendOTPCode(normalized, code, expireMinutes, widget.DefaultLocale); err != nil {
		// 发信失败，补偿删除挑战记录并归还限流额度
		if delErr := s.challengeRepo.Delete(challenge.ID); delErr != nil {
			logger.Errorw("otp_challenge_compensate_delete_failed",
				"challenge_id", challenge.ID,
				"error", delErr,
			)
		}
		if s.limiter != nil {
			if refundErr := s.limiter.Refund(ctx, emailHash, widgetID); refundErr != nil {
				logger.Warnw("otp_rate_limit_refund_failed", "widget_id", widgetID, "error", refundErr)
			}
		}
		logger.Warnw("otp_email_send_failed", "widget_id", widgetID, "error", err)
		return nil, ErrEmailSendFailed
	}

	return &ChallengeResult{
		ExpiresAt:        challenge.ExpiresAt,
		ExpiresInMinutes: expireMinutes,
	}, nil
}

// VerifyChallenge 校验验证码。失败计数走数据库原子递增，
// 判定基于递增后的回读值，并发提交不会多给尝试机会。
func (s *OTPService) VerifyChallenge(ctx context.Context, email, code, visitorID, widgetID string) (*VerifyResult, error) {
	_ = ctx
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	emailHash := HashEmail(normalized)

	record, err := s.challengeRepo.GetLatest(emailHash, widgetID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.VerifiedAt != nil {
		return nil, ErrChallengeNotFound
	}

	now := time.Now()
	if record.ExpiresAt.Before(now) {
		return nil, ErrChallengeExpired
	}

	maxAttempts := resolveOTPMaxAttempts(s.cfg.Consent)
	if record.AttemptCount >= maxAttempts {
		return nil, ErrChallengeMaxAttempts
	}

	if strings.TrimSpace(record.OTPCode) != strings.TrimSpace(code) {
		count, err := s.challengeRepo.IncrementAttemptWithCount(record.ID)
		if err != nil {
			return nil, err
		}
		if count >= maxAttempts {
			return nil, ErrChallengeMaxAttempts
		}
		return nil, &InvalidCodeError{RemainingAttempts: maxAttempts - count}
	}

	if err := s.challengeRepo.MarkVerified(record.ID, now); err != nil {
		return nil, err
	}

	linked, err := s.prefRepo.CountDistinctVisitorsByEmailHash(emailHash, widgetID)
	if err != nil {
		logger.Warnw("otp_linked_devices_count_failed", "widget_id", widgetID, "error", err)
		linked = 0
	}
	_ = visitorID

	return &VerifyResult{
		EmailHash:     emailHash,
		LinkedDevices: linked,
	}, nil
}

// HasVerifiedChallenge 判断邮箱在该 widget 下是否存在已验证的挑战
func (s *OTPService) HasVerifiedChallenge(emailHash, widgetID string) (bool, error) {
	record, err := s.challengeRepo.GetLatest(emailHash, widgetID)
	if err != nil {
		return false, err
	}
	return record != nil && record.VerifiedAt != nil, nil
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(normalized); err != nil {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}

// NormalizeEmail 统一邮箱格式
func NormalizeEmail(email string) (string, error) {
	return normalizeEmail(email)
}

func resolveOTPExpireMinutes(cfg config.ConsentConfig, widget *models.Widget) int {
	if widget != nil && widget.OTPExpireMinutes > 0 {
		return widget.OTPExpireMinutes
	}
	if cfg.OTPExpireMinutes <= 0 {
		return 10
	}
	return cfg.OTPExpireMinutes
}

func resolveOTPMaxAttempts(cfg config.ConsentConfig) int {
	if cfg.OTPMaxAttempts <= 0 {
		return 3
	}
	return cfg.OTPMaxAttempts
}

func resolveOTPCodeLength(cfg config.ConsentConfig) int {
	if cfg.OTPCodeLength < 4 || cfg.OTPCodeLength > 10 {
		return 6
	}
	return cfg.OTPCodeLength
}

func resolveOTPWindowSeconds(cfg config.ConsentConfig) int {
	if cfg.OTPWindowSeconds <= 0 {
		return 3600
	}
	return cfg.OTPWindowSeconds
}

func resolveOTPMaxPerWindow(cfg config.ConsentConfig) int {
	if cfg.OTPMaxPerWindow <= 0 {
		return 3
	}
	return cfg.OTPMaxPerWindow
}

func resolveConsentDurationDays(cfg config.ConsentConfig, widget *models.Widget) int {
	if widget != nil && widget.ConsentDurationDays > 0 {
		return widget.ConsentDurationDays
	}
	if cfg.DurationDays <= 0 {
		return 365
	}
	return cfg.DurationDays
}

func randomNumericCode(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(fmt.Sprintf("%d", n.Int64()))
	}
	return b.String(), nil
}
