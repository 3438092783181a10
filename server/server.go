// Package server handles the JSON API over the tracker core.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pricedrop-notifier/pkg/tracker"
)

// Extractor interface for verifying a listing before it is tracked.
type Extractor interface {
	Extract(ctx context.Context, url string) (*tracker.Listing, error)
}

// Store interface for product and notification management.
type Store interface {
	Products() []*tracker.Product
	Product(id int) (*tracker.Product, error)
	Create(ctx context.Context, p *tracker.Product) *tracker.Product
	Update(ctx context.Context, id int, update tracker.ProductUpdate) (*tracker.Product, error)
	Delete(ctx context.Context, id int) error
	Notifications() []*tracker.Notification
	MarkNotificationRead(ctx context.Context, id int) (*tracker.Notification, error)
}

// Checker interface for triggering an on-demand price check pass.
type Checker interface {
	CheckAll(ctx context.Context)
}

// IsExtractError checks if an error is an extraction failure.
type IsExtractError func(error) bool

// IsNotFound checks if an error is a not-found condition.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	store          Store
	extractor      Extractor
	checker        Checker
	logger         *slog.Logger
	isExtractError IsExtractError
	isNotFound     IsNotFound
	limiter        *rateLimiter
}

// Config holds server configuration.
type Config struct {
	Store          Store
	Extractor      Extractor
	Checker        Checker
	Logger         *slog.Logger
	IsExtractError IsExtractError
	IsNotFound     IsNotFound
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		store:          cfg.Store,
		extractor:      cfg.Extractor,
		checker:        cfg.Checker,
		logger:         cfg.Logger,
		isExtractError: cfg.IsExtractError,
		isNotFound:     cfg.IsNotFound,
		limiter:        newRateLimiter(),
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/products", s.handleProducts)
	mux.HandleFunc("/api/products/", s.handleProductByID)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/notifications/", s.handleNotificationAction)
	mux.HandleFunc("/api/check", s.handleCheck)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Server shutdown failed", "error", err)
		}
	}()

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Manual check triggered")

	// A trigger while a pass is already in flight is a no-op inside the
	// monitor, so duplicate requests cannot stack runs.
	s.checker.CheckAll(r.Context())

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
