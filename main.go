// Package main implements the price-drop notifier service: a background
// scheduler that re-checks tracked marketplace listings and a JSON API over
// the tracked product set.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pricedrop-notifier/config"
	"pricedrop-notifier/extract"
	"pricedrop-notifier/notify"
	"pricedrop-notifier/poll"
	"pricedrop-notifier/server"
	"pricedrop-notifier/store"

	gcs "cloud.google.com/go/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	snap, cleanup := newSnapshotter(ctx, cfg, logger)
	defer cleanup()

	st := store.New(snap, logger)
	if err := st.Load(ctx); err != nil {
		logger.Warn("Failed to load persisted state, starting empty", "error", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	extractor := extract.New(httpClient, logger, cfg.PlaceholderImage)

	sender := notify.New(newProvider(cfg, logger), logger)

	monitor := poll.New(&poll.Config{
		Extractor:    extractor,
		Store:        st,
		Alerter:      sender,
		Logger:       logger,
		Interval:     cfg.CheckInterval,
		InitialDelay: cfg.InitialDelay,
		Pace:         cfg.RequestPace,
	})
	go monitor.Run(ctx)

	srv := server.New(&server.Config{
		Store:          st,
		Extractor:      extractor,
		Checker:        monitor,
		Logger:         logger,
		IsExtractError: extract.IsExtractError,
		IsNotFound:     store.IsNotFound,
	})

	if err := srv.ListenAndServe(ctx, cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// newSnapshotter picks the persistence backend: a Cloud Storage bucket when
// configured, else a local snapshot file, else memory only. Persistence
// trouble is never fatal; the store degrades to in-memory operation.
func newSnapshotter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Snapshotter, func()) {
	noop := func() {}

	if cfg.Bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			logger.Warn("Failed to initialize Storage client, running in memory only", "error", err)
			return store.NewDiscardSnapshotter(), noop
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}
		logger.Info("Using Cloud Storage snapshots", "bucket", cfg.Bucket)
		return store.NewBucketSnapshotter(client, cfg.Bucket, logger), cleanup
	}

	if cfg.SnapshotFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SnapshotFile), 0o755); err != nil {
			logger.Warn("Failed to create snapshot directory, running in memory only", "error", err)
			return store.NewDiscardSnapshotter(), noop
		}
		logger.Info("Using local snapshot file", "path", cfg.SnapshotFile)
		return store.NewFileSnapshotter(cfg.SnapshotFile, logger), noop
	}

	logger.Info("No snapshot backend configured, state is in-memory only")
	return store.NewDiscardSnapshotter(), noop
}

// newProvider picks the alert channel: Telegram when configured, otherwise
// a mock that just logs.
func newProvider(cfg *config.Config, logger *slog.Logger) notify.Provider {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == 0 {
		logger.Info("Telegram not configured, using mock alerts")
		return notify.NewMockProvider(logger)
	}

	provider, err := notify.NewTelegramProvider(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		logger.Warn("Failed to initialize Telegram provider, using mock alerts", "error", err)
		return notify.NewMockProvider(logger)
	}
	return provider
}
