package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("JWT_SECRET", "a-sufficiently-long-test-secret")
	os.Setenv("DB_PASSWORD", "postgres")
	os.Setenv("MFA_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	t.Cleanup(func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("DB_PASSWORD")
		os.Unsetenv("MFA_ENCRYPTION_KEY")
	})
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Invite.AdminTTL != 72*time.Hour {
		t.Errorf("expected admin invite TTL 72h, got %v", cfg.Invite.AdminTTL)
	}
	if cfg.Invite.SelfServiceTTL != 7*24*time.Hour {
		t.Errorf("expected self-service invite TTL 168h, got %v", cfg.Invite.SelfServiceTTL)
	}
	if cfg.Reset.TokenTTL != time.Hour {
		t.Errorf("expected reset token TTL 1h, got %v", cfg.Reset.TokenTTL)
	}
	if cfg.Reset.RequestsPerHour != 3 {
		t.Errorf("expected 3 reset requests per hour, got %d", cfg.Reset.RequestsPerHour)
	}
	if cfg.MFA.BackupCodeCount != 10 {
		t.Errorf("expected 10 backup codes, got %d", cfg.MFA.BackupCodeCount)
	}
	if len(cfg.MFA.EncryptionKey) != 32 {
		t.Errorf("expected 32-byte MFA key, got %d bytes", len(cfg.MFA.EncryptionKey))
	}
}

func TestLoadMissingJWTSecret(t *testing.T) {
	os.Unsetenv("JWT_SECRET")
	os.Setenv("DB_PASSWORD", "postgres")
	os.Setenv("MFA_ENCRYPTION_KEY", strings.Repeat("ab", 32))
	defer func() {
		os.Unsetenv("DB_PASSWORD")
		os.Unsetenv("MFA_ENCRYPTION_KEY")
	}()

	if _, err := Load(); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
}

func TestLoadMissingMFAKey(t *testing.T) {
	os.Setenv("JWT_SECRET", "a-sufficiently-long-test-secret")
	os.Setenv("DB_PASSWORD", "postgres")
	os.Unsetenv("MFA_ENCRYPTION_KEY")
	defer func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("DB_PASSWORD")
	}()

	if _, err := Load(); err == nil {
		t.Fatal("expected error when MFA_ENCRYPTION_KEY is missing")
	}
}

func TestLoadRejectsShortMFAKey(t *testing.T) {
	os.Setenv("JWT_SECRET", "a-sufficiently-long-test-secret")
	os.Setenv("DB_PASSWORD", "postgres")
	os.Setenv("MFA_ENCRYPTION_KEY", "abcdef")
	defer func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("DB_PASSWORD")
		os.Unsetenv("MFA_ENCRYPTION_KEY")
	}()

	if _, err := Load(); err == nil {
		t.Fatal("expected error for short MFA key")
	}
}

func TestValidateJWTSecretProduction(t *testing.T) {
	if err := validateJWTSecret("short", "production"); err == nil {
		t.Error("expected short secret to fail in production")
	}
	if err := validateJWTSecret(strings.Repeat("x", 32), "production"); err != nil {
		t.Errorf("expected 32-char secret to pass in production: %v", err)
	}
}
