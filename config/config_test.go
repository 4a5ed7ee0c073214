package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "FE_ORIGINS", "FE_ORIGIN", "WEBHOOK_URL", "STORE_DRIVER", "REDIS_URL",
		"NOTIFICATION_LIMIT", "ACTIVE_WINDOW", "JWT_SECRET_KEY", "DASHBOARD_API_KEY",
		"CLICKHOUSE_NATIVE_PORT", "SNAPSHOT_INTERVAL", "DISPLAY_TIMEZONE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Port)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("expected memory store, got %s", cfg.StoreDriver)
	}
	if cfg.NotificationLimit != 100 {
		t.Errorf("expected notification limit 100, got %d", cfg.NotificationLimit)
	}
	if cfg.ActiveWindow != 5*time.Minute {
		t.Errorf("expected active window 5m, got %v", cfg.ActiveWindow)
	}
	if cfg.DisplayTimezone != "Asia/Dubai" {
		t.Errorf("expected Asia/Dubai, got %s", cfg.DisplayTimezone)
	}
	if len(cfg.FEOrigins) != 1 || cfg.FEOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected default origins: %v", cfg.FEOrigins)
	}
	if cfg.WebhookURL != "" {
		t.Errorf("expected no webhook, got %s", cfg.WebhookURL)
	}
	if cfg.AuthEnabled() {
		t.Error("expected auth disabled without secrets")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FE_ORIGINS", "https://shop.example, https://ar.shop.example ,")
	t.Setenv("ACTIVE_WINDOW", "90s")
	t.Setenv("NOTIFICATION_LIMIT", "25")
	t.Setenv("DASHBOARD_API_KEY", "k")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.FEOrigins) != 2 || cfg.FEOrigins[1] != "https://ar.shop.example" {
		t.Errorf("unexpected origins: %v", cfg.FEOrigins)
	}
	if cfg.ActiveWindow != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.ActiveWindow)
	}
	if cfg.NotificationLimit != 25 {
		t.Errorf("expected 25, got %d", cfg.NotificationLimit)
	}
	if !cfg.AuthEnabled() {
		t.Error("expected auth enabled with an API key")
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"redis without url", map[string]string{"STORE_DRIVER": "redis"}},
		{"bad window", map[string]string{"ACTIVE_WINDOW": "five minutes"}},
		{"bad limit", map[string]string{"NOTIFICATION_LIMIT": "many"}},
		{"zero limit", map[string]string{"NOTIFICATION_LIMIT": "0"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
