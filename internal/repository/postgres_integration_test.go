//go:build integration
// +build integration

package repository

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/consently-next/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupPostgresIntegrationDB 初始化 PostgreSQL 集成测试数据库。
func setupPostgresIntegrationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("skip postgres integration test: TEST_POSTGRES_DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open postgres failed: %v", err)
	}

	cleanupModels := []interface{}{
		&models.ActivityPreference{},
		&models.ConsentRecord{},
		&models.EmailVerifyChallenge{},
		&models.Activity{},
		&models.Widget{},
	}
	_ = db.Migrator().DropTable(cleanupModels...)

	if err := db.AutoMigrate(
		&models.Widget{},
		&models.Activity{},
		&models.EmailVerifyChallenge{},
		&models.ActivityPreference{},
		&models.ConsentRecord{},
	); err != nil {
		t.Fatalf("migrate postgres models failed: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Migrator().DropTable(cleanupModels...)
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})

	return db
}

func TestPostgresWidgetSearchAndActivities(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewWidgetRepository(db)

	widget := &models.Widget{
		WidgetID:      "pg-widget-main",
		Name:          "主站同意横幅",
		Domain:        "pg.consently.local",
		DefaultLocale: "zh-CN",
		IsActive:      true,
		Activities: []models.Activity{
			{ActivityID: "essential", Name: "必要功能", Essential: true, SortOrder: 0},
			{ActivityID: "analytics", Name: "统计分析", SortOrder: 10},
		},
	}
	if err := repo.Create(widget); err != nil {
		t.Fatalf("create widget failed: %v", err)
	}

	rows, total, err := repo.List(WidgetListFilter{Page: 1, Search: "主站"})
	if err != nil {
		t.Fatalf("widget list search failed: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("widget list search want 1 got total=%d len=%d", total, len(rows))
	}

	loaded, err := repo.GetByWidgetID("pg-widget-main")
	if err != nil {
		t.Fatalf("get widget by widget_id failed: %v", err)
	}
	if loaded == nil || len(loaded.Activities) != 2 {
		t.Fatalf("widget activities want 2 got %+v", loaded)
	}
}

func TestPostgresPreferenceUpsertConflict(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewActivityPreferenceRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	first := []models.ActivityPreference{
		{
			VisitorID:     "pg-visitor-1",
			WidgetID:      "pg-widget-main",
			ActivityID:    "analytics",
			ConsentStatus: "accepted",
			ConsentID:     "consent-a",
			ExpiresAt:     now.Add(24 * time.Hour),
		},
	}
	if err := repo.UpsertBatch(first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second := []models.ActivityPreference{
		{
			VisitorID:     "pg-visitor-1",
			WidgetID:      "pg-widget-main",
			ActivityID:    "analytics",
			ConsentStatus: "withdrawn",
			ConsentID:     "consent-b",
			ExpiresAt:     now.Add(48 * time.Hour),
		},
	}
	if err := repo.UpsertBatch(second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	prefs, err := repo.ListByVisitor("pg-visitor-1", "pg-widget-main")
	if err != nil {
		t.Fatalf("list prefs failed: %v", err)
	}
	if len(prefs) != 1 {
		t.Fatalf("prefs len want 1 got %d", len(prefs))
	}
	if prefs[0].ConsentStatus != "withdrawn" || prefs[0].ConsentID != "consent-b" {
		t.Fatalf("conflict upsert should overwrite, got %+v", prefs[0])
	}
}

func TestPostgresConsentRecordListFilters(t *testing.T) {
	db := setupPostgresIntegrationDB(t)
	repo := NewConsentRecordRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	records := []models.ConsentRecord{
		{
			ConsentID:           "pg-consent-1",
			VisitorID:           "pg-visitor-1",
			WidgetID:            "pg-widget-main",
			Action:              "accept_all",
			OverallStatus:       "accepted",
			ConsentedActivities: models.StringArray{"analytics", "marketing"},
			ExpiresAt:           now.Add(24 * time.Hour),
			CreatedAt:           now.Add(-time.Hour),
		},
		{
			ConsentID:          "pg-consent-1",
			VisitorID:          "pg-visitor-1",
			WidgetID:           "pg-widget-main",
			Action:             "reject_all",
			OverallStatus:      "revoked",
			RejectedActivities: models.StringArray{"analytics", "marketing"},
			ExpiresAt:          now.Add(24 * time.Hour),
			CreatedAt:          now,
		},
	}
	for i := range records {
		if err := repo.Create(&records[i]); err != nil {
			t.Fatalf("create record failed: %v", err)
		}
	}

	rows, total, err := repo.List(ConsentRecordListFilter{Page: 1, WidgetID: "pg-widget-main", OverallStatus: "revoked"})
	if err != nil {
		t.Fatalf("record list failed: %v", err)
	}
	if total != 1 || len(rows) != 1 {
		t.Fatalf("record list want 1 got total=%d len=%d", total, len(rows))
	}
	if rows[0].Action != "reject_all" {
		t.Fatalf("record action want reject_all got %s", rows[0].Action)
	}

	history, err := repo.ListByVisitor("pg-visitor-1", "pg-widget-main", 10)
	if err != nil {
		t.Fatalf("list by visitor failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history len want 2 got %d", len(history))
	}
	if history[0].OverallStatus != "revoked" {
		t.Fatalf("history should be newest first, got %s", history[0].OverallStatus)
	}
}
