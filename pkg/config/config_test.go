package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.JWTSecret == "" {
		t.Error("dev mode should fill in a default JWT secret")
	}
	if cfg.AppPortMax <= cfg.AppPortMin {
		t.Error("AppPortMax must exceed AppPortMin")
	}
}

func TestLoadRequiresSecretOutsideDevMode(t *testing.T) {
	t.Setenv("DEV_MODE", "false")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when JWT_SECRET is missing outside dev mode")
	}
}

func TestLoadRejectsInvertedPortRange(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("APP_PORT_MIN", "40000")
	t.Setenv("APP_PORT_MAX", "30000")

	if _, err := Load(); err == nil {
		t.Error("expected error when APP_PORT_MAX <= APP_PORT_MIN")
	}
}
