package service

import (
	"testing"

	"github.com/consently-next/internal/config"
	"github.com/consently-next/internal/constants"
	"github.com/consently-next/internal/models"
)

type mockSettingRepo struct {
	store map[string]models.JSON
}

func newMockSettingRepo() *mockSettingRepo {
	return &mockSettingRepo{store: map[string]models.JSON{}}
}

func (m *mockSettingRepo) GetByKey(key string) (*models.Setting, error) {
	value, ok := m.store[key]
	if !ok {
		return nil, nil
	}
	return &models.Setting{Key: key, ValueJSON: value}, nil
}

func (m *mockSettingRepo) Upsert(key string, value models.JSON) (*models.Setting, error) {
	m.store[key] = value
	return &models.Setting{Key: key, ValueJSON: value}, nil
}

func TestNormalizeSMTPSetting(t *testing.T) {
	setting := NormalizeSMTPSetting(SMTPSetting{})
	if setting.Port != 587 {
		t.Fatalf("expected default port 587, got %d", setting.Port)
	}

	setting = NormalizeSMTPSetting(SMTPSetting{Port: 99999, Host: "  smtp.example.com  "})
	if setting.Port != 587 {
		t.Fatalf("out-of-range port should fall back to 587, got %d", setting.Port)
	}
	if setting.Host != "smtp.example.com" {
		t.Fatalf("host should be trimmed, got %q", setting.Host)
	}
}

func TestValidateSMTPSetting(t *testing.T) {
	invalid := NormalizeSMTPSetting(SMTPSetting{
		Enabled: true,
		Host:    "smtp.example.com",
		From:    "notify@example.com",
		UseTLS:  true,
		UseSSL:  true,
	})
	if err := ValidateSMTPSetting(invalid); err == nil {
		t.Fatal("expected tls/ssl conflict validation error")
	}

	missingHost := NormalizeSMTPSetting(SMTPSetting{
		Enabled: true,
		From:    "notify@example.com",
	})
	if err := ValidateSMTPSetting(missingHost); err == nil {
		t.Fatal("expected missing host validation error")
	}

	// 未启用时仅校验端口范围
	disabled := NormalizeSMTPSetting(SMTPSetting{Enabled: false})
	if err := ValidateSMTPSetting(disabled); err != nil {
		t.Fatalf("disabled smtp should pass validation, got %v", err)
	}

	valid := NormalizeSMTPSetting(SMTPSetting{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		From:     "notify@example.com",
		UseTLS:   true,
		Password: "secret",
	})
	if err := ValidateSMTPSetting(valid); err != nil {
		t.Fatalf("expected valid smtp config, got error: %v", err)
	}
}

func TestPatchSMTPSettingKeepsPasswordWhenEmpty(t *testing.T) {
	repo := newMockSettingRepo()
	svc := NewSettingService(repo)

	defaultCfg := config.EmailConfig{
		Enabled:  true,
		Host:     "smtp.default.com",
		Port:     587,
		Username: "default-user",
		Password: "default-secret",
		From:     "default@example.com",
		FromName: "Default",
		UseTLS:   true,
	}

	updated, err := svc.PatchSMTPSetting(defaultCfg, SMTPSettingPatch{
		Host:     ptrString("smtp.custom.com"),
		Password: ptrString(""),
	})
	if err != nil {
		t.Fatalf("patch smtp setting failed: %v", err)
	}
	if updated.Host != "smtp.custom.com" {
		t.Fatalf("expected patched host, got %q", updated.Host)
	}
	if updated.Password != "default-secret" {
		t.Fatalf("expected password keep default-secret, got %q", updated.Password)
	}

	saved, ok := repo.store[constants.SettingKeySMTPConfig]
	if !ok {
		t.Fatalf("smtp setting was not saved")
	}
	if saved["password"] != "default-secret" {
		t.Fatalf("expected saved password keep old value, got %v", saved["password"])
	}
}

func TestGetSMTPSettingFallsBackToConfig(t *testing.T) {
	repo := newMockSettingRepo()
	svc := NewSettingService(repo)

	setting, err := svc.GetSMTPSetting(config.EmailConfig{
		Enabled: true,
		Host:    "smtp.default.com",
		Port:    465,
		From:    "default@example.com",
		UseSSL:  true,
	})
	if err != nil {
		t.Fatalf("get smtp setting failed: %v", err)
	}
	if setting.Host != "smtp.default.com" || setting.Port != 465 || !setting.UseSSL {
		t.Fatalf("expected config fallback, got %+v", setting)
	}
}

func ptrString(value string) *string {
	return &value
}
