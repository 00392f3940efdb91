package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/consently-next/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRepoTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestChallenge(emailHash string, sentAt, expiresAt time.Time) *models.EmailVerifyChallenge {
	return &models.EmailVerifyChallenge{
		EmailHash: emailHash,
		WidgetID:  "widget-1",
		VisitorID: "visitor-1",
		OTPCode:   "482913",
		SentAt:    sentAt,
		ExpiresAt: expiresAt,
	}
}

func TestChallengeIncrementAttemptWithCount(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewEmailVerifyChallengeRepository(db)
	now := time.Now()

	challenge := newTestChallenge("hash-a", now, now.Add(10*time.Minute))
	if err := repo.Create(challenge); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	count, err := repo.IncrementAttemptWithCount(challenge.ID)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("count want 1 got %d", count)
	}
	count, err = repo.IncrementAttemptWithCount(challenge.ID)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("count want 2 got %d", count)
	}

	loaded, err := repo.GetLatest("hash-a", "widget-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if loaded == nil || loaded.AttemptCount != 2 {
		t.Fatalf("persisted attempt count want 2 got %+v", loaded)
	}
}

func TestChallengeGetLatestOrdering(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewEmailVerifyChallengeRepository(db)
	now := time.Now()

	older := newTestChallenge("hash-a", now.Add(-time.Hour), now.Add(-50*time.Minute))
	if err := repo.Create(older); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	newer := newTestChallenge("hash-a", now, now.Add(10*time.Minute))
	newer.OTPCode = "135790"
	if err := repo.Create(newer); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	latest, err := repo.GetLatest("hash-a", "widget-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if latest == nil || latest.OTPCode != "135790" {
		t.Fatalf("latest should be newest by sent_at, got %+v", latest)
	}

	missing, err := repo.GetLatest("hash-a", "widget-other")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("other widget should have no challenge, got %+v", missing)
	}
}

func TestChallengeCountAndOldestSentSince(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewEmailVerifyChallengeRepository(db)
	now := time.Now()

	inWindowOld := newTestChallenge("hash-a", now.Add(-30*time.Minute), now.Add(-20*time.Minute))
	inWindowNew := newTestChallenge("hash-a", now.Add(-5*time.Minute), now.Add(5*time.Minute))
	outOfWindow := newTestChallenge("hash-a", now.Add(-2*time.Hour), now.Add(-110*time.Minute))
	for _, c := range []*models.EmailVerifyChallenge{inWindowOld, inWindowNew, outOfWindow} {
		if err := repo.Create(c); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	since := now.Add(-time.Hour)
	count, err := repo.CountSentSince("hash-a", "widget-1", since)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("window count want 2 got %d", count)
	}

	oldest, err := repo.OldestSentSince("hash-a", "widget-1", since)
	if err != nil {
		t.Fatalf("oldest failed: %v", err)
	}
	if oldest == nil || oldest.ID != inWindowOld.ID {
		t.Fatalf("oldest in window want id %d got %+v", inWindowOld.ID, oldest)
	}
}

func TestChallengeDeleteExpiredBeforeKeepsVerified(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewEmailVerifyChallengeRepository(db)
	now := time.Now()

	expired := newTestChallenge("hash-expired", now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err := repo.Create(expired); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// 已验证的过期挑战保留，跨设备关联查询还要用
	verified := newTestChallenge("hash-verified", now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err := repo.Create(verified); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.MarkVerified(verified.ID, now.Add(-90*time.Minute)); err != nil {
		t.Fatalf("mark verified failed: %v", err)
	}
	active := newTestChallenge("hash-active", now, now.Add(10*time.Minute))
	if err := repo.Create(active); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := repo.DeleteExpiredBefore(now.Add(-30 * time.Minute))
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted rows want 1 got %d", deleted)
	}

	if got, _ := repo.GetLatest("hash-expired", "widget-1"); got != nil {
		t.Fatalf("expired unverified challenge should be gone, got %+v", got)
	}
	if got, _ := repo.GetLatest("hash-verified", "widget-1"); got == nil || got.VerifiedAt == nil {
		t.Fatalf("verified challenge should survive cleanup, got %+v", got)
	}
	if got, _ := repo.GetLatest("hash-active", "widget-1"); got == nil {
		t.Fatalf("unexpired challenge should survive cleanup")
	}
}

func TestChallengeDeleteCompensation(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewEmailVerifyChallengeRepository(db)
	now := time.Now()

	challenge := newTestChallenge("hash-a", now, now.Add(10*time.Minute))
	if err := repo.Create(challenge); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Delete(challenge.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, err := repo.GetLatest("hash-a", "widget-1")
	if err != nil {
		t.Fatalf("get latest failed: %v", err)
	}
	if got != nil {
		t.Fatalf("deleted challenge should not be returned, got %+v", got)
	}
	count, err := repo.CountSentSince("hash-a", "widget-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("deleted challenge should not count toward the window, got %d", count)
	}
}
