// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration.
type Config struct {
	Port             string
	Bucket           string // Cloud Storage bucket for snapshots
	SnapshotFile     string // local snapshot path, used when no bucket is set
	TelegramToken    string
	TelegramChatID   int64
	CheckInterval    time.Duration
	InitialDelay     time.Duration
	RequestPace      time.Duration
	PlaceholderImage string
}

// Load reads configuration from the environment, with an optional .env
// file for local development. Every value has a default; nothing here is
// fatal.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             envOr("PORT", "8080"),
		Bucket:           os.Getenv("SNAPSHOT_BUCKET"),
		SnapshotFile:     os.Getenv("SNAPSHOT_FILE"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		CheckInterval:    time.Duration(envInt("CHECK_INTERVAL_MINUTES", 60)) * time.Minute,
		InitialDelay:     time.Duration(envInt("INITIAL_DELAY_SECONDS", 10)) * time.Second,
		RequestPace:      time.Duration(envInt("REQUEST_PACE_SECONDS", 2)) * time.Second,
		PlaceholderImage: envOr("PLACEHOLDER_IMAGE", "https://via.placeholder.com/300x300?text=No+Image"),
	}

	if cfg.Bucket == "" && cfg.SnapshotFile == "" {
		cfg.SnapshotFile = "./data/state.json"
	}

	if chatIDStr := os.Getenv("TELEGRAM_CHAT_ID"); chatIDStr != "" {
		if chatID, err := strconv.ParseInt(chatIDStr, 10, 64); err == nil {
			cfg.TelegramChatID = chatID
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
