package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.CheckInterval != time.Hour {
		t.Errorf("CheckInterval = %v, want 1h", cfg.CheckInterval)
	}
	if cfg.RequestPace != 2*time.Second {
		t.Errorf("RequestPace = %v, want 2s", cfg.RequestPace)
	}
	if cfg.Bucket == "" && cfg.SnapshotFile == "" {
		t.Error("no persistence backend defaulted")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CHECK_INTERVAL_MINUTES", "5")
	t.Setenv("SNAPSHOT_FILE", "/tmp/state.json")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123456")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q, want 9999", cfg.Port)
	}
	if cfg.CheckInterval != 5*time.Minute {
		t.Errorf("CheckInterval = %v, want 5m", cfg.CheckInterval)
	}
	if cfg.SnapshotFile != "/tmp/state.json" {
		t.Errorf("SnapshotFile = %q", cfg.SnapshotFile)
	}
	if cfg.TelegramChatID != -100123456 {
		t.Errorf("TelegramChatID = %d", cfg.TelegramChatID)
	}
}

func TestEnvIntRejectsGarbage(t *testing.T) {
	t.Setenv("CHECK_INTERVAL_MINUTES", "soon")
	cfg := Load()
	if cfg.CheckInterval != time.Hour {
		t.Errorf("CheckInterval = %v, want the default on a bad value", cfg.CheckInterval)
	}
}
