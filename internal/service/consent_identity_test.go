package service

import (
	"strings"
	"testing"
	"time"
)

func TestHashEmailNormalization(t *testing.T) {
	base := HashEmail("visitor@example.com")
	if len(base) != 64 {
		t.Fatalf("hash length want 64 got %d", len(base))
	}
	if HashEmail("  Visitor@Example.COM  ") != base {
		t.Fatalf("hash should ignore case and surrounding spaces")
	}
	if HashEmail("other@example.com") == base {
		t.Fatalf("different emails should not collide")
	}
}

func TestResolveConsentIDWithVerifiedEmail(t *testing.T) {
	hash := HashEmail("visitor@example.com")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := ResolveConsentID("widget-1", "visitor-a", &hash, now)
	if err != nil {
		t.Fatalf("resolve consent id failed: %v", err)
	}
	second, err := ResolveConsentID("widget-1", "visitor-b", &hash, now)
	if err != nil {
		t.Fatalf("resolve consent id failed: %v", err)
	}

	wantPrefix := "widget-1_" + hash[:16] + "_"
	if !strings.HasPrefix(first, wantPrefix) {
		t.Fatalf("consent id want prefix %q got %q", wantPrefix, first)
	}
	// 同一邮箱跨设备前缀稳定，visitor 不参与
	if first != second {
		t.Fatalf("same email and instant should produce same consent id, got %q vs %q", first, second)
	}
}

func TestResolveConsentIDAnonymous(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := ResolveConsentID("widget-1", "visitor-a", nil, now)
	if err != nil {
		t.Fatalf("resolve consent id failed: %v", err)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 4 {
		t.Fatalf("anonymous consent id want 4 segments got %q", id)
	}
	if parts[0] != "widget-1" || parts[1] != "visitor-a" {
		t.Fatalf("anonymous consent id should embed widget and visitor, got %q", id)
	}
	if len(parts[3]) != 5 {
		t.Fatalf("anonymous suffix want 5 chars got %q", parts[3])
	}

	other, err := ResolveConsentID("widget-1", "visitor-a", nil, now)
	if err != nil {
		t.Fatalf("resolve consent id failed: %v", err)
	}
	if id == other {
		t.Fatalf("anonymous consent ids should differ by random suffix")
	}

	blank := ""
	idBlankHash, err := ResolveConsentID("widget-1", "visitor-a", &blank, now)
	if err != nil {
		t.Fatalf("resolve consent id failed: %v", err)
	}
	if len(strings.Split(idBlankHash, "_")) != 4 {
		t.Fatalf("blank email hash should fall back to anonymous format, got %q", idBlankHash)
	}
}
