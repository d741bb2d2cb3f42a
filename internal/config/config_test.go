package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_SECRET", "test-secret")
	t.Setenv("KEY_ENCRYPTION_KEY", strings.Repeat("ab", 32))
}

func TestLoadDevWithoutBackendURLs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsDev() {
		t.Fatal("expected dev environment")
	}
	if cfg.DatabaseURL != "" || cfg.RedisURL != "" {
		t.Fatal("expected empty backend URLs")
	}
}

func TestLoadProductionRequiresBackendURLs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL outside dev")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/lumo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without REDIS_URL outside dev")
	}
}

func TestLoadRequiresIdentitySecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("IDENTITY_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without IDENTITY_SECRET")
	}
}

func TestLoadRejectsShortEncryptionKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("KEY_ENCRYPTION_KEY", "abcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for a key shorter than 32 bytes")
	}
}
