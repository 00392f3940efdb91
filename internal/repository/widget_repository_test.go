package repository

import (
	"testing"

	"github.com/consently-next/internal/models"
)

func seedTestWidget(t *testing.T, repo WidgetRepository, widgetID, name string, active bool) *models.Widget {
	t.Helper()
	widget := &models.Widget{
		WidgetID: widgetID,
		Name:     name,
		IsActive: active,
		Activities: []models.Activity{
			{ActivityID: "essential", Name: "必要功能", Essential: true, SortOrder: 0},
			{ActivityID: "analytics", Name: "统计分析", SortOrder: 10},
		},
	}
	if err := repo.Create(widget); err != nil {
		t.Fatalf("create widget failed: %v", err)
	}
	return widget
}

func TestWidgetGetByWidgetIDWithActivities(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewWidgetRepository(db)
	seedTestWidget(t, repo, "widget-1", "主站横幅", true)

	widget, err := repo.GetByWidgetID("widget-1")
	if err != nil {
		t.Fatalf("get widget failed: %v", err)
	}
	if widget == nil {
		t.Fatalf("widget should exist")
	}
	if len(widget.Activities) != 2 {
		t.Fatalf("activities want 2 got %d", len(widget.Activities))
	}
	if widget.Activities[0].ActivityID != "essential" {
		t.Fatalf("activities should be ordered by sort_order, got %+v", widget.Activities)
	}

	missing, err := repo.GetByWidgetID("widget-missing")
	if err != nil {
		t.Fatalf("get widget failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing widget should be nil, got %+v", missing)
	}
}

func TestWidgetListFilters(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewWidgetRepository(db)
	seedTestWidget(t, repo, "widget-1", "主站横幅", true)
	seedTestWidget(t, repo, "widget-2", "文档站横幅", false)

	rows, total, err := repo.List(WidgetListFilter{Page: 1, Search: "主站"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].WidgetID != "widget-1" {
		t.Fatalf("search want widget-1 got total=%d rows=%+v", total, rows)
	}

	active := true
	rows, total, err = repo.List(WidgetListFilter{Page: 1, IsActive: &active})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].WidgetID != "widget-1" {
		t.Fatalf("active filter want widget-1 got total=%d rows=%+v", total, rows)
	}

	rows, total, err = repo.List(WidgetListFilter{Page: 1})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("unfiltered list want 2 got total=%d len=%d", total, len(rows))
	}
}

func TestWidgetReplaceActivities(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewWidgetRepository(db)
	widget := seedTestWidget(t, repo, "widget-1", "主站横幅", true)

	replacement := []models.Activity{
		{ActivityID: "analytics", Name: "统计分析（更新）", SortOrder: 0},
		{ActivityID: "marketing", Name: "营销推广", SortOrder: 10},
		{ActivityID: "personalization", Name: "个性化推荐", SortOrder: 20},
	}
	if err := repo.ReplaceActivities(widget.ID, replacement); err != nil {
		t.Fatalf("replace activities failed: %v", err)
	}

	loaded, err := repo.GetByWidgetID("widget-1")
	if err != nil {
		t.Fatalf("get widget failed: %v", err)
	}
	if len(loaded.Activities) != 3 {
		t.Fatalf("activities want 3 got %d", len(loaded.Activities))
	}
	ids := make(map[string]bool, len(loaded.Activities))
	for _, activity := range loaded.Activities {
		ids[activity.ActivityID] = true
	}
	if ids["essential"] {
		t.Fatalf("replaced set should not contain the old essential activity")
	}
	if !ids["marketing"] || !ids["personalization"] {
		t.Fatalf("replaced set incomplete: %+v", ids)
	}
	if loaded.Activities[0].Name != "统计分析（更新）" {
		t.Fatalf("replacement should overwrite names, got %+v", loaded.Activities[0])
	}

	// 清空集合
	if err := repo.ReplaceActivities(widget.ID, nil); err != nil {
		t.Fatalf("clear activities failed: %v", err)
	}
	loaded, err = repo.GetByWidgetID("widget-1")
	if err != nil {
		t.Fatalf("get widget failed: %v", err)
	}
	if len(loaded.Activities) != 0 {
		t.Fatalf("cleared activities want 0 got %d", len(loaded.Activities))
	}
}

func TestWidgetDeleteRemovesActivities(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewWidgetRepository(db)
	widget := seedTestWidget(t, repo, "widget-1", "主站横幅", true)

	if err := repo.Delete(widget.ID); err != nil {
		t.Fatalf("delete widget failed: %v", err)
	}
	loaded, err := repo.GetByWidgetID("widget-1")
	if err != nil {
		t.Fatalf("get widget failed: %v", err)
	}
	if loaded != nil {
		t.Fatalf("deleted widget should be gone, got %+v", loaded)
	}
}
