package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/constants"
	"github.com/consently-next/internal/models"
	"github.com/consently-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type preferenceTestEnv struct {
	db            *gorm.DB
	svc           *PreferenceService
	prefRepo      repository.ActivityPreferenceRepository
	challengeRepo repository.EmailVerifyChallengeRepository
	recordRepo    repository.ConsentRecordRepository
}

func setupPreferenceTestEnv(t *testing.T) *preferenceTestEnv {
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
		&models.ConsentRecord{},
	); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	widgetRepo := repository.NewWidgetRepository(db)
	prefRepo := repository.NewActivityPreferenceRepository(db)
	challengeRepo := repository.NewEmailVerifyChallengeRepository(db)
	recordRepo := repository.NewConsentRecordRepository(db)

	widget := &models.Widget{
		WidgetID:      "widget-1",
		Name:          "测试横幅",
		DefaultLocale: "zh-CN",
		IsActive:      true,
		Activities: []models.Activity{
			{ActivityID: "analytics", Name: "统计分析", SortOrder: 10},
			{ActivityID: "marketing", Name: "营销推广", SortOrder: 20},
		},
	}
	if err := widgetRepo.Create(widget); err != nil {
		t.Fatalf("create widget failed: %v", err)
	}
	inactive := &models.Widget{WidgetID: "widget-off", Name: "停用横幅", IsActive: false}
	if err := widgetRepo.Create(inactive); err != nil {
		t.Fatalf("create inactive widget failed: %v", err)
	}

	cfg := &config.Config{}
	cfg.Consent.DurationDays = 365
	recordService := NewConsentRecordService(recordRepo, nil)

	return &preferenceTestEnv{
		db:            db,
		svc:           NewPreferenceService(cfg, widgetRepo, prefRepo, challengeRepo, recordService),
		prefRepo:      prefRepo,
		challengeRepo: challengeRepo,
		recordRepo:    recordRepo,
	}
}

func prefStatusMap(t *testing.T, env *preferenceTestEnv, visitorID string) map[string]string {
	t.Helper()
	prefs, err := env.prefRepo.ListByVisitor(visitorID, "widget-1")
	if err != nil {
		t.Fatalf("list prefs failed: %v", err)
	}
	statuses := make(map[string]string, len(prefs))
	for _, pref := range prefs {
		statuses[pref.ActivityID] = pref.ConsentStatus
	}
	return statuses
}

func TestBulkUpdateAcceptAll(t *testing.T) {
	env := setupPreferenceTestEnv(t)

	result, err := env.svc.BulkUpdate(context.Background(), BulkUpdateInput{
		VisitorID:  "visitor-1",
		WidgetID:   "widget-1",
		Action:     "accept_all",
		DeviceType: "desktop",
		Locale:     "zh-CN",
	})
	if err != nil {
		t.Fatalf("accept_all failed: %v", err)
	}
	if result.OverallStatus != constants.ConsentOverallAccepted {
		t.Fatalf("overall want accepted got %s", result.OverallStatus)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("updated count want 2 got %d", result.UpdatedCount)
	}
	if result.ConsentID == "" {
		t.Fatalf("consent id should not be empty")
	}
	if !result.ExpiresAt.After(time.Now().Add(364 * 24 * time.Hour)) {
		t.Fatalf("expires_at should honor duration, got %v", result.ExpiresAt)
	}

	statuses := prefStatusMap(t, env, "visitor-1")
	if statuses["analytics"] != "accepted" || statuses["marketing"] != "accepted" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestBulkUpdateAcceptAllIdempotent(t *testing.T) {
	env := setupPreferenceTestEnv(t)
	ctx := context.Background()
	input := BulkUpdateInput{VisitorID: "visitor-1", WidgetID: "widget-1", Action: "accept_all"}

	if _, err := env.svc.BulkUpdate(ctx, input); err != nil {
		t.Fatalf("first accept_all failed: %v", err)
	}
	second, err := env.svc.BulkUpdate(ctx, input)
	if err != nil {
		t.Fatalf("second accept_all failed: %v", err)
	}
	if second.OverallStatus != constants.ConsentOverallAccepted {
		t.Fatalf("overall want accepted got %s", second.OverallStatus)
	}

	prefs, err := env.prefRepo.ListByVisitor("visitor-1", "widget-1")
	if err != nil {
		t.Fatalf("list prefs failed: %v", err)
	}
	// 唯一键兜底，重复写不产生新行
	if len(prefs) != 2 {
		t.Fatalf("prefs len want 2 got %d", len(prefs))
	}
	for _, pref := range prefs {
		if pref.ConsentStatus != "accepted" {
			t.Fatalf("status want accepted got %s", pref.ConsentStatus)
		}
	}
}

func TestBulkUpdateRejectAllAfterAcceptBecomesWithdrawn(t *testing.T) {
	env := setupPreferenceTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "visitor-1", WidgetID: "widget-1", Action: "accept_all"}); err != nil {
		t.Fatalf("accept_all failed: %v", err)
	}
	result, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "visitor-1", WidgetID: "widget-1", Action: "reject_all"})
	if err != nil {
		t.Fatalf("reject_all failed: %v", err)
	}

	if result.OverallStatus != constants.ConsentOverallRevoked {
		t.Fatalf("overall want revoked got %s", result.OverallStatus)
	}
	statuses := prefStatusMap(t, env, "visitor-1")
	if statuses["analytics"] != "withdrawn" || statuses["marketing"] != "withdrawn" {
		t.Fatalf("prior accepted should become withdrawn, got %+v", statuses)
	}

	records, err := env.recordRepo.ListByVisitor("visitor-1", "widget-1", 10)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records len want 2 got %d", len(records))
	}
	latest := records[0]
	if latest.OverallStatus != constants.ConsentOverallRevoked {
		t.Fatalf("latest record overall want revoked got %s", latest.OverallStatus)
	}
	if latest.RevokedAt == nil {
		t.Fatalf("revoked record should carry revoked_at")
	}
	if latest.RevocationReason != constants.RevocationReasonUserRejectedAll {
		t.Fatalf("revocation reason want user_rejected_all got %s", latest.RevocationReason)
	}
}

func TestBulkUpdateRejectAllAfterPartialAcceptIsRejected(t *testing.T) {
	env := setupPreferenceTestEnv(t)
	ctx := context.Background()

	// 仅接受部分活动后整批拒绝：已接受的变撤回，其余变拒绝，整体是 rejected
	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{
		VisitorID:   "visitor-1",
		WidgetID:    "widget-1",
		Action:      "custom",
		Preferences: map[string]string{"analytics": "accepted"},
	}); err != nil {
		t.Fatalf("partial accept failed: %v", err)
	}

	result, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "visitor-1", WidgetID: "widget-1", Action: "reject_all"})
	if err != nil {
		t.Fatalf("reject_all failed: %v", err)
	}
	if result.OverallStatus != constants.ConsentOverallRejected {
		t.Fatalf("mixed withdrawn and rejected batch want overall rejected got %s", result.OverallStatus)
	}

	statuses := prefStatusMap(t, env, "visitor-1")
	if statuses["analytics"] != "withdrawn" || statuses["marketing"] != "rejected" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}

	records, err := env.recordRepo.ListByVisitor("visitor-1", "widget-1", 10)
	if err != nil {
		t.Fatalf("list records failed: %v", err)
	}
	latest := records[0]
	if latest.OverallStatus != constants.ConsentOverallRejected {
		t.Fatalf("latest record overall want rejected got %s", latest.OverallStatus)
	}
	if latest.RevokedAt != nil || latest.RevocationReason != "" {
		t.Fatalf("rejected record must not carry revocation fields, got %v %s", latest.RevokedAt, latest.RevocationReason)
	}
}

func TestBulkUpdateRejectAllWithoutPriorAccept(t *testing.T) {
	env := setupPreferenceTestEnv(t)

	result, err := env.svc.BulkUpdate(context.Background(), BulkUpdateInput{
		VisitorID: "visitor-1",
		WidgetID:  "widget-1",
		Action:    "reject_all",
	})
	if err != nil {
		t.Fatalf("reject_all failed: %v", err)
	}
	if result.OverallStatus != constants.ConsentOverallRejected {
		t.Fatalf("overall want rejected got %s", result.OverallStatus)
	}
	statuses := prefStatusMap(t, env, "visitor-1")
	if statuses["analytics"] != "rejected" || statuses["marketing"] != "rejected" {
		t.Fatalf("never accepted should become rejected, got %+v", statuses)
	}
}

func TestBulkUpdateCustomPartial(t *testing.T) {
	env := setupPreferenceTestEnv(t)

	result, err := env.svc.BulkUpdate(context.Background(), BulkUpdateInput{
		VisitorID: "visitor-1",
		WidgetID:  "widget-1",
		Action:    "custom",
		Preferences: map[string]string{
			"analytics": "accepted",
			"marketing": "rejected",
		},
	})
	if err != nil {
		t.Fatalf("custom update failed: %v", err)
	}
	if result.OverallStatus != constants.ConsentOverallPartial {
		t.Fatalf("overall want partial got %s", result.OverallStatus)
	}
	statuses := prefStatusMap(t, env, "visitor-1")
	if statuses["analytics"] != "accepted" || statuses["marketing"] != "rejected" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestBulkUpdateCustomUnknownActivityAtomic(t *testing.T) {
	env := setupPreferenceTestEnv(t)

	_, err := env.svc.BulkUpdate(context.Background(), BulkUpdateInput{
		VisitorID: "visitor-1",
		WidgetID:  "widget-1",
		Action:    "custom",
		Preferences: map[string]string{
			"analytics": "accepted",
			"ghost":     "accepted",
		},
	})
	if !errors.Is(err, ErrUnknownActivity) {
		t.Fatalf("want ErrUnknownActivity got %v", err)
	}

	// 整批拒绝，合法的那条也不能落库
	prefs, listErr := env.prefRepo.ListByVisitor("visitor-1", "widget-1")
	if listErr != nil {
		t.Fatalf("list prefs failed: %v", listErr)
	}
	if len(prefs) != 0 {
		t.Fatalf("unknown activity batch should write nothing, got %d rows", len(prefs))
	}
}

func TestBulkUpdateInputValidation(t *testing.T) {
	env := setupPreferenceTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "v", WidgetID: "widget-1", Action: "enable_all"}); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("want ErrInvalidAction got %v", err)
	}
	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "v", WidgetID: "widget-1", Action: "custom"}); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("want ErrEmptyBatch got %v", err)
	}
	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "v", WidgetID: "widget-missing", Action: "accept_all"}); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("want ErrWidgetNotFound got %v", err)
	}
	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "v", WidgetID: "widget-off", Action: "accept_all"}); !errors.Is(err, ErrWidgetInactive) {
		t.Fatalf("want ErrWidgetInactive got %v", err)
	}
	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{
		VisitorID:   "v",
		WidgetID:    "widget-1",
		Action:      "custom",
		Preferences: map[string]string{"analytics": "maybe"},
	}); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("custom with invalid status want ErrInvalidAction got %v", err)
	}
}

func TestBulkUpdateVerifiedEmailLinksHash(t *testing.T) {
	env := setupPreferenceTestEnv(t)
	ctx := context.Background()
	hash := HashEmail("visitor@example.com")
	now := time.Now()

	// 未验证邮箱不建立关联
	result, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{
		VisitorID:    "visitor-1",
		WidgetID:     "widget-1",
		Action:       "accept_all",
		VisitorEmail: "visitor@example.com",
	})
	if err != nil {
		t.Fatalf("accept_all failed: %v", err)
	}
	if len(result.Preferences) == 0 || result.Preferences[0].EmailHash != nil {
		t.Fatalf("unverified email must not attach hash")
	}

	challenge := &models.EmailVerifyChallenge{
		EmailHash: hash,
		WidgetID:  "widget-1",
		VisitorID: "visitor-1",
		OTPCode:   "123456",
		ExpiresAt: now.Add(10 * time.Minute),
		SentAt:    now,
	}
	if err := env.challengeRepo.Create(challenge); err != nil {
		t.Fatalf("create challenge failed: %v", err)
	}
	if err := env.challengeRepo.MarkVerified(challenge.ID, now); err != nil {
		t.Fatalf("mark verified failed: %v", err)
	}

	result, err = env.svc.BulkUpdate(ctx, BulkUpdateInput{
		VisitorID:    "visitor-2",
		WidgetID:     "widget-1",
		Action:       "accept_all",
		VisitorEmail: "Visitor@Example.com",
	})
	if err != nil {
		t.Fatalf("accept_all with verified email failed: %v", err)
	}
	prefs, err := env.prefRepo.ListByVisitor("visitor-2", "widget-1")
	if err != nil {
		t.Fatalf("list prefs failed: %v", err)
	}
	for _, pref := range prefs {
		if pref.EmailHash == nil || *pref.EmailHash != hash {
			t.Fatalf("verified email should attach hash, got %+v", pref.EmailHash)
		}
	}
	if !strings.HasPrefix(result.ConsentID, "widget-1_"+hash[:16]+"_") {
		t.Fatalf("verified consent id should use email hash prefix, got %s", result.ConsentID)
	}
}

func TestListPreferences(t *testing.T) {
	env := setupPreferenceTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.ListPreferences("visitor-1", "widget-missing"); !errors.Is(err, ErrWidgetNotFound) {
		t.Fatalf("want ErrWidgetNotFound got %v", err)
	}

	if _, err := env.svc.BulkUpdate(ctx, BulkUpdateInput{VisitorID: "visitor-1", WidgetID: "widget-1", Action: "accept_all"}); err != nil {
		t.Fatalf("accept_all failed: %v", err)
	}
	prefs, err := env.svc.ListPreferences("visitor-1", "widget-1")
	if err != nil {
		t.Fatalf("list preferences failed: %v", err)
	}
	if len(prefs) != 2 {
		t.Fatalf("prefs len want 2 got %d", len(prefs))
	}
}

func TestAggregateOverallStatus(t *testing.T) {
	now := time.Now()

	overall, revokedAt, reason := aggregateOverallStatus("reject_all", map[string]string{
		"a": "withdrawn",
		"b": "withdrawn",
	}, now)
	if overall != constants.ConsentOverallRevoked || revokedAt == nil || reason != constants.RevocationReasonUserRejectedAll {
		t.Fatalf("unexpected revoked aggregation: %s %v %s", overall, revokedAt, reason)
	}

	// 撤回与拒绝混合且无接受：部分活动从未被授权，整体是 rejected 而非 revoked
	overall, revokedAt, reason = aggregateOverallStatus("reject_all", map[string]string{
		"a": "withdrawn",
		"b": "rejected",
	}, now)
	if overall != constants.ConsentOverallRejected {
		t.Fatalf("mixed withdrawn and rejected want rejected got %s", overall)
	}
	if revokedAt != nil || reason != "" {
		t.Fatalf("rejected aggregation should not carry revocation, got %v %s", revokedAt, reason)
	}

	overall, revokedAt, reason = aggregateOverallStatus("custom", map[string]string{"a": "withdrawn"}, now)
	if overall != constants.ConsentOverallRevoked || reason != constants.RevocationReasonUserWithdrew {
		t.Fatalf("custom withdraw should use user_withdrew_consent, got %s %s", overall, reason)
	}
	_ = revokedAt

	overall, _, _ = aggregateOverallStatus("custom", map[string]string{"a": "accepted", "b": "withdrawn"}, now)
	if overall != constants.ConsentOverallPartial {
		t.Fatalf("mixed accept and withdraw want partial got %s", overall)
	}

	overall, _, _ = aggregateOverallStatus("reject_all", map[string]string{"a": "rejected"}, now)
	if overall != constants.ConsentOverallRejected {
		t.Fatalf("all rejected want rejected got %s", overall)
	}
}
