package repository

import (
	"testing"
	"time"

	"github.com/consently-next/internal/models"
)

func TestPreferenceUpsertBatchOverwrites(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewActivityPreferenceRepository(db)
	now := time.Now()

	first := []models.ActivityPreference{
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-a", ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "marketing", ConsentStatus: "accepted", ConsentID: "consent-a", ExpiresAt: now.Add(24 * time.Hour)},
	}
	if err := repo.UpsertBatch(first); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	second := []models.ActivityPreference{
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "withdrawn", ConsentID: "consent-b", ExpiresAt: now.Add(48 * time.Hour)},
	}
	if err := repo.UpsertBatch(second); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	prefs, err := repo.ListByVisitor("visitor-1", "widget-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	// 唯一键冲突走覆盖，不产生重复行
	if len(prefs) != 2 {
		t.Fatalf("prefs len want 2 got %d", len(prefs))
	}
	byActivity := make(map[string]models.ActivityPreference, len(prefs))
	for _, pref := range prefs {
		byActivity[pref.ActivityID] = pref
	}
	if byActivity["analytics"].ConsentStatus != "withdrawn" || byActivity["analytics"].ConsentID != "consent-b" {
		t.Fatalf("analytics should be overwritten, got %+v", byActivity["analytics"])
	}
	if byActivity["marketing"].ConsentStatus != "accepted" {
		t.Fatalf("marketing should be untouched, got %+v", byActivity["marketing"])
	}
}

func TestPreferenceUpsertBatchEmpty(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewActivityPreferenceRepository(db)

	if err := repo.UpsertBatch(nil); err != nil {
		t.Fatalf("empty upsert should be a no-op, got %v", err)
	}
}

func TestPreferenceListByVisitorScoping(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewActivityPreferenceRepository(db)
	now := time.Now()

	seed := []models.ActivityPreference{
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "marketing", ConsentStatus: "accepted", ConsentID: "consent-a", ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-a", ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-1", WidgetID: "widget-2", ActivityID: "analytics", ConsentStatus: "rejected", ConsentID: "consent-x", ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-2", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "rejected", ConsentID: "consent-y", ExpiresAt: now.Add(24 * time.Hour)},
	}
	if err := repo.UpsertBatch(seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	prefs, err := repo.ListByVisitor("visitor-1", "widget-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(prefs) != 2 {
		t.Fatalf("prefs len want 2 got %d", len(prefs))
	}
	if prefs[0].ActivityID != "analytics" || prefs[1].ActivityID != "marketing" {
		t.Fatalf("prefs should be ordered by activity_id, got %+v", prefs)
	}
}

func TestPreferenceCountDistinctVisitorsByEmailHash(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewActivityPreferenceRepository(db)
	now := time.Now()
	hash := "e3b0c44298fc1c14"
	otherHash := "ffffffffffffffff"

	seed := []models.ActivityPreference{
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-a", EmailHash: &hash, ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-1", WidgetID: "widget-1", ActivityID: "marketing", ConsentStatus: "accepted", ConsentID: "consent-a", EmailHash: &hash, ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-2", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-b", EmailHash: &hash, ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-3", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-c", EmailHash: &otherHash, ExpiresAt: now.Add(24 * time.Hour)},
		{VisitorID: "visitor-4", WidgetID: "widget-1", ActivityID: "analytics", ConsentStatus: "accepted", ConsentID: "consent-d", ExpiresAt: now.Add(24 * time.Hour)},
	}
	if err := repo.UpsertBatch(seed); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	count, err := repo.CountDistinctVisitorsByEmailHash(hash, "widget-1")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	// visitor-1 两条偏好只算一个设备
	if count != 2 {
		t.Fatalf("linked visitors want 2 got %d", count)
	}

	count, err = repo.CountDistinctVisitorsByEmailHash(hash, "widget-2")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("other widget should have no linked visitors, got %d", count)
	}
}
