// Package poll runs the recurring price check across the tracked product set.
package poll

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"pricedrop-notifier/pkg/tracker"
)

// Extractor interface for fetching and parsing one listing URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (*tracker.Listing, error)
}

// Store interface for product and notification state.
type Store interface {
	Products() []*tracker.Product
	AddPricePoint(ctx context.Context, id int, point tracker.PricePoint) (*tracker.Product, error)
	SetListing(ctx context.Context, id int, listing *tracker.Listing, checkedAt time.Time) (*tracker.Product, error)
	CreateNotification(ctx context.Context, n *tracker.Notification) *tracker.Notification
}

// Alerter interface for delivering drop alerts.
type Alerter interface {
	SendDropAlert(ctx context.Context, n *tracker.Notification) error
}

// Monitor owns the price check schedule and the per-tick iteration.
type Monitor struct {
	extractor    Extractor
	store        Store
	alerter      Alerter
	logger       *slog.Logger
	interval     time.Duration
	initialDelay time.Duration
	pace         time.Duration
	checking     atomic.Bool
}

// Config holds monitor configuration.
type Config struct {
	Extractor    Extractor
	Store        Store
	Alerter      Alerter
	Logger       *slog.Logger
	Interval     time.Duration // time between scheduled passes
	InitialDelay time.Duration // delay before the first pass after start
	Pace         time.Duration // sleep between consecutive products
}

// New creates a new poll monitor.
func New(cfg *Config) *Monitor {
	return &Monitor{
		extractor:    cfg.Extractor,
		store:        cfg.Store,
		alerter:      cfg.Alerter,
		logger:       cfg.Logger,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		pace:         cfg.Pace,
	}
}

// Run performs an initial delayed check and then ticks at the configured
// interval until ctx is cancelled. Cancelling ctx is the stop handle.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Price check scheduler started",
		"interval", m.interval.String(),
		"initial_delay", m.initialDelay.String())

	kick := time.NewTimer(m.initialDelay)
	defer kick.Stop()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Price check scheduler stopped", "error", ctx.Err())
			return
		case <-kick.C:
			m.CheckAll(ctx)
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll runs one full pass over the product set. A trigger while a pass
// is already running is a no-op, not a queued run; the checking flag is
// released on every exit path. A pass is never fatal to the process.
func (m *Monitor) CheckAll(ctx context.Context) {
	if !m.checking.CompareAndSwap(false, true) {
		m.logger.Info("Price check already running, ignoring trigger")
		return
	}
	defer m.checking.Store(false)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Price check pass panicked", "panic", r)
		}
	}()

	// Snapshot at tick start: products added mid-pass wait for the next one.
	products := m.store.Products()
	now := time.Now()
	m.logger.Info("Checking products", "count", len(products), "timestamp", now.Format(time.RFC3339))

	var checked, failed int
	for i, product := range products {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping price check", "error", ctx.Err())
			return
		default:
		}

		if err := m.checkProduct(ctx, product); err != nil {
			failed++
			m.logger.Warn("Product check failed", "product_id", product.ID, "url", product.URL, "error", err)
		} else {
			checked++
		}

		// Space out requests so consecutive products never hit the
		// marketplace back to back.
		if i < len(products)-1 {
			sleepCtx(ctx, m.pace)
		}
	}

	m.logger.Info("Product check completed", "checked", checked, "failed", failed)
}

// checkProduct extracts one product's listing and reconciles it against
// stored state. On extraction failure nothing is mutated; the next
// scheduled pass is the retry mechanism.
func (m *Monitor) checkProduct(ctx context.Context, product *tracker.Product) error {
	listing, err := m.extractor.Extract(ctx, product.URL)
	if err != nil {
		return err
	}

	previousPrice := product.CurrentPrice

	// Source markup occasionally reports a list price below the selling
	// price; clamp so the discount math stays sane.
	if listing.OriginalPrice < listing.CurrentPrice {
		listing.OriginalPrice = listing.CurrentPrice
	}

	now := time.Now().UTC()
	if _, err := m.store.AddPricePoint(ctx, product.ID, tracker.PricePoint{Date: now, Price: listing.CurrentPrice}); err != nil {
		return err
	}
	updated, err := m.store.SetListing(ctx, product.ID, listing, now)
	if err != nil {
		return err
	}

	m.maybeNotify(ctx, updated, previousPrice, listing.CurrentPrice)
	return nil
}

// maybeNotify raises a notification only when the discount percentage
// crosses the configured threshold from below. A price already past
// threshold that drops further stays silent.
func (m *Monitor) maybeNotify(ctx context.Context, product *tracker.Product, oldPrice, newPrice int) {
	if !product.NotifyOnDrop || newPrice >= oldPrice {
		return
	}

	// The previous percentage is recomputed from the previously stored
	// price against the effective original, not remembered from the last
	// notification, so a restart between checks can re-arm an alert.
	oldPct := DropPercent(product.OriginalPrice, oldPrice)
	newPct := DropPercent(product.OriginalPrice, newPrice)
	if oldPct >= product.DropPercentage || newPct < product.DropPercentage {
		return
	}

	n := m.store.CreateNotification(ctx, &tracker.Notification{
		ProductID:         product.ID,
		ProductName:       product.Title,
		ProductURL:        product.URL,
		OldPrice:          oldPrice,
		NewPrice:          newPrice,
		PercentageDropped: newPct,
	})

	m.logger.Info("Price drop detected",
		"product_id", product.ID,
		"old_price", oldPrice,
		"new_price", newPrice,
		"dropped_pct", newPct,
		"threshold_pct", product.DropPercentage)

	if m.alerter == nil {
		return
	}
	if err := m.alerter.SendDropAlert(ctx, n); err != nil {
		// The notification is already stored; delivery is best effort.
		m.logger.Warn("Drop alert delivery failed", "notification_id", n.ID, "error", err)
	}
}

// DropPercent is the discount of price against original as a percentage,
// rounded to the nearest integer. A non-positive original yields 0.
func DropPercent(original, price int) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round(float64(original-price) / float64(original) * 100))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
