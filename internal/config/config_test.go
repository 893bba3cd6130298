package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("Storage.Type = %q, want redis", cfg.Storage.Type)
	}
	if cfg.Notify.BadgeThreshold != 10 {
		t.Errorf("BadgeThreshold = %d, want 10", cfg.Notify.BadgeThreshold)
	}
	if !cfg.Notify.CoalesceRefresh {
		t.Error("CoalesceRefresh should default to true")
	}
	if cfg.Notify.SubscribeKind != "message_inserted" {
		t.Errorf("SubscribeKind = %q, want message_inserted", cfg.Notify.SubscribeKind)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  api_port: 18080
storage:
  redis:
    host: redis.internal
    port: 6380
notify:
  badge_threshold: 99
  coalesce_refresh: false
account:
  user_id: athlete-1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 18080 {
		t.Errorf("APIPort = %d, want 18080", cfg.Server.APIPort)
	}
	if cfg.Storage.Redis.Host != "redis.internal" || cfg.Storage.Redis.Port != 6380 {
		t.Errorf("Redis = %s:%d, want redis.internal:6380", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port)
	}
	if cfg.Notify.BadgeThreshold != 99 {
		t.Errorf("BadgeThreshold = %d, want 99", cfg.Notify.BadgeThreshold)
	}
	if cfg.Notify.CoalesceRefresh {
		t.Error("CoalesceRefresh should be false")
	}
	if cfg.Account.UserID != "athlete-1" {
		t.Errorf("UserID = %q, want athlete-1", cfg.Account.UserID)
	}
	// Untouched keys keep their defaults
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.Server.MetricsPort)
	}
}

func TestLoad_BadgeThresholdDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, "notify:\n  badge_threshold: -1\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Notify.BadgeThreshold != -1 {
		t.Errorf("BadgeThreshold = %d, want -1", cfg.Notify.BadgeThreshold)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("COACHSYNC_ACCOUNT_USER_ID", "coach-7")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Account.UserID != "coach-7" {
		t.Errorf("UserID = %q, want coach-7", cfg.Account.UserID)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad api port", "server:\n  api_port: 70000\n"},
		{"unsupported storage", "storage:\n  type: bolt\n"},
		{"bad duration", "storage:\n  redis:\n    dial_timeout: soon\n"},
		{"empty channel prefix", "realtime:\n  channel_prefix: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	if got := ParseDuration("5s", time.Minute); got != 5*time.Second {
		t.Errorf("ParseDuration(5s) = %v", got)
	}
	if got := ParseDuration("nope", time.Minute); got != time.Minute {
		t.Errorf("ParseDuration(nope) = %v, want fallback", got)
	}
}
