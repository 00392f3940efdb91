package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type stubChallengeLimiter struct {
	retryAfter int
	allowed    bool
	err        error
	refunds    int
}

func (l *stubChallengeLimiter) Allow(ctx context.Context, emailHash, widgetID string) (int, bool, error) {
	return l.retryAfter, l.allowed, l.err
}

func (l *stubChallengeLimiter) Refund(ctx context.Context, emailHash, widgetID string) error {
	l.refunds++
	return nil
}

type otpTestEnv struct {
	svc           *OTPService
	challengeRepo repository.EmailVerifyChallengeRepository
	prefRepo      repository.ActivityPreferenceRepository
}

func setupOTPTestEnv(t *testing.T, limiter ChallengeRateLimiter) *otpTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Widget{},
		&models.Activity{},
		&models.EmailVerifyChallenge{},
		&models.ActivityPreference{},
	); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	widgetRepo := repository.NewWidgetRepository(db)
	challengeRepo := repository.NewEmailVerifyChallengeRepository(db)
	prefRepo := repository.NewActivityPreferenceRepository(db)

	if err := widgetRepo.Create(&models.Widget{WidgetID: "widget-1", Name: "测试横幅", DefaultLocale: "zh-CN", IsActive: true}); err != nil {
		t.Fatalf("create widget failed: %v", err)
	}
	if err := widgetRepo.Create(&models.Widget{WidgetID: "widget-off", Name: "停用横幅", IsActive: false}); err != nil {
		t.Fatalf("create inactive widget failed: %v", err)
	}

	cfg := &config.Config{}
	// 邮件服务保持未启用，发送路径必然失败，便于测试补偿逻辑
	emailService := NewEmailService(&config.EmailConfig{Enabled: false})

	return &otpTestEnv{
		svc:           NewOTPService(cfg, widgetRepo, challengeRepo, prefRepo, emailService, limiter),
		challengeRepo: challengeRepo,
		prefRepo:      prefRepo,
	}
}

func seedChallenge(t *testing.T, env *otpTestEnv, emailHash, code string, expiresAt time.Time) *models.EmailVerifyChallenge {
	t.Helper()
	challenge := &models.EmailVerifyChallenge{
		EmailHash: emailHash,
		WidgetID:  "widget-1",
		VisitorID: "visitor-1",
		OTPCode:   code,
		ExpiresAt: expiresAt,
		SentAt:    time.Now(),
	}
	if err := env.challengeRepo.Create(challenge); err != nil {
		t.Fatalf("create challenge failed: %v", err)
	}
	return challenge
}

func TestRequestChallengeRateLimited(t *testing.T) {
	env := setupOTPTestEnv(t, &stubChallengeLimiter{retryAfter: 120, allowed: false})

	_, err := env.svc.RequestChallenge(context.Background(), "visitor@example.com", "visitor-1", "widget-1")
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("want RateLimitedError got %v", err)
	}
	if rateErr.RetryAfterSeconds != 120 {
		t.Fatalf("retry after want 120 got %d", rateErr.RetryAfterSeconds)
	}

	// 被限流的请求不应留下挑战记录
	hash := HashEmail("visitor@example.com")
	record, err := env.challengeRepo.GetLatest(hash, "widget-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if record != nil {
		t.Fatalf("rate limited request should not persist a challenge")
	}
}

func TestRequestChallengeValidation(t *testing.T) {
	env := setupOTPTestEnv(t, &stubChallengeLimiter{allowed: true})
	ctx := context.Background()

	if _, err := env.svc.RequestChallenge(ctx, "not-an-email", "visitor-1", "widget-1"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("want ErrInvalidEmail got %v", err)
	}
	if _, err := env.svc.RequestChallenge(ctx, "visitor@example.com", "visitor-1", "widget-missing"); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("want ErrWidgetNotFound got %v", err)
	}
	if _, err := env.svc.RequestChallenge(ctx, "visitor@example.com", "visitor-1", "widget-off"); !errors.Is(err, ErrWidgetInactive) {
		t.Fatalf("want ErrWidgetInactive got %v", err)
	}
}

func TestRequestChallengeSendFailureCompensates(t *testing.T) {
	limiter := &stubChallengeLimiter{allowed: true}
	env := setupOTPTestEnv(t, limiter)

	_, err := env.svc.RequestChallenge(context.Background(), "visitor@example.com", "visitor-1", "widget-1")
	if !errors.Is(err, ErrEmailSendFailed) {
		t.Fatalf("want ErrEmailSendFailed got %v", err)
	}

	// 发信失败必须补偿删除，不能留下可验证的挑战
	hash := HashEmail("visitor@example.com")
	record, err := env.challengeRepo.GetLatest(hash, "widget-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if record != nil {
		t.Fatalf("failed send should delete the challenge, got %+v", record)
	}
	// 失败的发信不能吞掉窗口内的发送额度
	if limiter.refunds != 1 {
		t.Fatalf("refund count want 1 got %d", limiter.refunds)
	}
}

func TestVerifyChallengeWrongCodeCountsDown(t *testing.T) {
	env := setupOTPTestEnv(t, nil)
	ctx := context.Background()
	hash := HashEmail("visitor@example.com")
	seedChallenge(t, env, hash, "482913", time.Now().Add(10*time.Minute))

	_, err := env.svc.VerifyChallenge(ctx, "visitor@example.com", "000000", "visitor-1", "widget-1")
	var codeErr *InvalidCodeError
	if !errors.As(err, &codeErr) {
		t.Fatalf("want InvalidCodeError got %v", err)
	}
	if codeErr.RemainingAttempts != 2 {
		t.Fatalf("remaining attempts want 2 got %d", codeErr.RemainingAttempts)
	}

	_, err = env.svc.VerifyChallenge(ctx, "visitor@example.com", "000000", "visitor-1", "widget-1")
	if !errors.As(err, &codeErr) {
		t.Fatalf("want InvalidCodeError got %v", err)
	}
	if codeErr.RemainingAttempts != 1 {
		t.Fatalf("remaining attempts want 1 got %d", codeErr.RemainingAttempts)
	}

	if _, err := env.svc.VerifyChallenge(ctx, "visitor@example.com", "000000", "visitor-1", "widget-1"); !errors.Is(err, ErrChallengeMaxAttempts) {
		t.Fatalf("third failure want ErrChallengeMaxAttempts got %v", err)
	}
	// 次数用尽后正确验证码也不再放行
	if _, err := env.svc.VerifyChallenge(ctx, "visitor@example.com", "482913", "visitor-1", "widget-1"); !errors.Is(err, ErrChallengeMaxAttempts) {
		t.Fatalf("correct code after lockout want ErrChallengeMaxAttempts got %v", err)
	}
}

func TestVerifyChallengeExpiredAndMissing(t *testing.T) {
	env := setupOTPTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.svc.VerifyChallenge(ctx, "visitor@example.com", "482913", "visitor-1", "widget-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("missing challenge want ErrChallengeNotFound got %v", err)
	}

	hash := HashEmail("visitor@example.com")
	seedChallenge(t, env, hash, "482913", time.Now().Add(-time.Minute))
	if _, err := env.svc.VerifyChallenge(ctx, "visitor@example.com", "482913", "visitor-1", "widget-1"); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expired challenge want ErrChallengeExpired got %v", err)
	}
}

func TestVerifyChallengeSuccessLinksDevices(t *testing.T) {
	env := setupOTPTestEnv(t, nil)
	ctx := context.Background()
	hash := HashEmail("visitor@example.com")
	now := time.Now()

	prefs := []models.ActivityPreference{
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-a", EmailHash: &hash, ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-2", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-b", EmailHash: &hash, ExpiresAt: now.Add(24 * time.Hour)},
	}
	if err := env.prefRepo.UpsertBatch(prefs); err != nil {
		t.Fatalf("seed prefs failed: %v", err)
	}

	seedChallenge(t, env, hash, "482913", now.Add(10*time.Minute))

	result, err := env.svc.VerifyChallenge(ctx, " Visitor@Example.COM ", "482913", "visitor-1", "widget-1")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.EmailHash != hash {
		t.Fatalf("email hash want %s got %s", hash, result.EmailHash)
	}
	if result.LinkedDevices != 2 {
		t.Fatalf("linked devices want 2 got %d", result.LinkedDevices)
	}

	record, err := env.challengeRepo.GetLatest(hash, "widget-1")
	if err != nil {
		t.Fatalf("get challenge failed: %v", err)
	}
	if record == nil || record.VerifiedAt == nil {
		t.Fatalf("challenge should be marked verified")
	}

	verified, err := env.svc.HasVerifiedChallenge(hash, "widget-1")
	if err != nil {
		t.Fatalf("has verified challenge failed: %v", err)
	}
	if !verified {
		t.Fatalf("has verified challenge want true")
	}

	// 已验证的挑战不能重复消费
	if _, err := env.svc.VerifyChallenge(ctx, "visitor@example.com", "482913", "visitor-1", "widget-1"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("reused challenge want ErrChallengeNotFound got %v", err)
	}
}

func TestDBChallengeRateLimiter(t *testing.T) {
	env := setupOTPTestEnv(t, nil)
	ctx := context.Background()
	hash := HashEmail("visitor@example.com")
	now := time.Now()

	limiter := NewDBChallengeRateLimiter(env.challengeRepo, 3600, 3)

	retryAfter, allowed, err := limiter.Allow(ctx, hash, "widget-1")
	if err != nil || !allowed || retryAfter != 0 {
		t.Fatalf("empty window should allow, got retry=%d allowed=%v err=%v", retryAfter, allowed, err)
	}

	for i := 0; i < 3; i++ {
		seedChallenge(t, env, hash, "482913", now.Add(10*time.Minute))
	}

	retryAfter, allowed, err = limiter.Allow(ctx, hash, "widget-1")
	if err != nil {
		t.Fatalf("limiter failed: %v", err)
	}
	if allowed {
		t.Fatalf("window full should not allow")
	}
	if retryAfter < 1 || retryAfter > 3600 {
		t.Fatalf("retry after out of range: %d", retryAfter)
	}

	// 其他邮箱不受影响
	_, allowed, err = limiter.Allow(ctx, HashEmail("other@example.com"), "widget-1")
	if err != nil || !allowed {
		t.Fatalf("other email should allow, got allowed=%v err=%v", allowed, err)
	}
}
