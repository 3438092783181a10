// Package store owns the tracked product and notification collections and
// their persistence.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pricedrop-notifier/pkg/tracker"
)

// ErrNotFound reports an operation against an unknown product or
// notification id. It is distinct from validation errors.
var ErrNotFound = errors.New("store: not found")

// IsNotFound checks if an error indicates a missing product or notification.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Snapshotter persists the full collection state as one atomic snapshot and
// reads it back at process start.
type Snapshotter interface {
	Save(ctx context.Context, state *tracker.State) error
	// Load returns (nil, nil) when nothing has been persisted yet.
	Load(ctx context.Context) (*tracker.State, error)
}

// Store is the in-memory repository of products and notifications. It
// persists a snapshot after every mutation; snapshot failures are logged
// and the in-memory state stays authoritative. It assumes a single
// tracking coordinator per process and is not built for independent
// multi-writer coordinators.
type Store struct {
	snap               Snapshotter
	logger             *slog.Logger
	products           map[int]*tracker.Product
	notifications      map[int]*tracker.Notification
	nextProductID      int
	nextNotificationID int
	mu                 sync.Mutex
}

// New creates an empty store backed by the given snapshotter.
func New(snap Snapshotter, logger *slog.Logger) *Store {
	return &Store{
		snap:               snap,
		logger:             logger,
		products:           make(map[int]*tracker.Product),
		notifications:      make(map[int]*tracker.Notification),
		nextProductID:      1,
		nextNotificationID: 1,
	}
}

// Load replaces the in-memory state with the persisted snapshot. A missing
// snapshot leaves the store empty; id counters are never rewound below
// their persisted values.
func (s *Store) Load(ctx context.Context) error {
	state, err := s.snap.Load(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		s.logger.Info("No persisted state found, starting empty")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.products = make(map[int]*tracker.Product, len(state.Products))
	for _, p := range state.Products {
		s.products[p.ID] = copyProduct(p)
	}
	s.notifications = make(map[int]*tracker.Notification, len(state.Notifications))
	for _, n := range state.Notifications {
		s.notifications[n.ID] = copyNotification(n)
	}
	if state.NextProductID > s.nextProductID {
		s.nextProductID = state.NextProductID
	}
	if state.NextNotificationID > s.nextNotificationID {
		s.nextNotificationID = state.NextNotificationID
	}

	s.logger.Info("State loaded",
		"products", len(s.products),
		"notifications", len(s.notifications),
		"next_product_id", s.nextProductID,
		"next_notification_id", s.nextNotificationID)
	return nil
}

// Products returns all tracked products, ordered by id.
func (s *Store) Products() []*tracker.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*tracker.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, copyProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Product returns one product by id.
func (s *Store) Product(id int) (*tracker.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProduct(p), nil
}

// Create assigns the next product id and stores the product. Ids are
// monotonic and never reused within a process lifetime.
func (s *Store) Create(ctx context.Context, p *tracker.Product) *tracker.Product {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyProduct(p)
	stored.ID = s.nextProductID
	s.nextProductID++
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.products[stored.ID] = stored

	s.logger.Info("Product created", "product_id", stored.ID, "url", stored.URL)
	s.persistLocked(ctx)
	return copyProduct(stored)
}

// Update applies tracking-setting changes to a product.
func (s *Store) Update(ctx context.Context, id int, update tracker.ProductUpdate) (*tracker.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	if update.NotifyOnDrop != nil {
		p.NotifyOnDrop = *update.NotifyOnDrop
	}
	if update.DropPercentage != nil {
		p.DropPercentage = *update.DropPercentage
	}

	s.persistLocked(ctx)
	return copyProduct(p), nil
}

// SetListing replaces a product's display and price fields with freshly
// extracted data and stamps the check time.
func (s *Store) SetListing(ctx context.Context, id int, listing *tracker.Listing, checkedAt time.Time) (*tracker.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Title = listing.Title
	p.ImageURL = listing.ImageURL
	p.CurrentPrice = listing.CurrentPrice
	p.OriginalPrice = listing.OriginalPrice
	p.LastChecked = checkedAt

	s.persistLocked(ctx)
	return copyProduct(p), nil
}

// AddPricePoint prepends a history point, truncates the history to the
// most recent MaxHistoryPoints, and sets the current price to the point's
// price.
func (s *Store) AddPricePoint(ctx context.Context, id int, point tracker.PricePoint) (*tracker.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrNotFound
	}

	history := make([]tracker.PricePoint, 0, len(p.PriceHistory)+1)
	history = append(history, point)
	history = append(history, p.PriceHistory...)
	if len(history) > tracker.MaxHistoryPoints {
		history = history[:tracker.MaxHistoryPoints]
	}
	p.PriceHistory = history
	p.CurrentPrice = point.Price

	s.persistLocked(ctx)
	return copyProduct(p), nil
}

// Delete removes a product. Its notifications are kept.
func (s *Store) Delete(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrNotFound
	}
	delete(s.products, id)

	s.logger.Info("Product deleted", "product_id", id)
	s.persistLocked(ctx)
	return nil
}

// Notifications returns all notifications, newest id first.
func (s *Store) Notifications() []*tracker.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*tracker.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, copyNotification(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// CreateNotification assigns the next notification id (an independent
// counter from product ids) and stores the notification unread.
func (s *Store) CreateNotification(ctx context.Context, n *tracker.Notification) *tracker.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyNotification(n)
	stored.ID = s.nextNotificationID
	s.nextNotificationID++
	stored.Read = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.notifications[stored.ID] = stored

	s.logger.Info("Notification created",
		"notification_id", stored.ID,
		"product_id", stored.ProductID,
		"dropped_pct", stored.PercentageDropped)
	s.persistLocked(ctx)
	return copyNotification(stored)
}

// MarkNotificationRead flips a notification to read. Repeat calls are
// no-ops that still succeed; unknown ids fail every time.
func (s *Store) MarkNotificationRead(ctx context.Context, id int) (*tracker.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !n.Read {
		n.Read = true
		s.persistLocked(ctx)
	}
	return copyNotification(n), nil
}

// persistLocked writes the full state through the snapshotter. Failures
// are logged and swallowed: in-memory state remains the source of truth
// for the rest of the process lifetime. Callers must hold s.mu.
func (s *Store) persistLocked(ctx context.Context) {
	state := &tracker.State{
		Products:           make([]*tracker.Product, 0, len(s.products)),
		Notifications:      make([]*tracker.Notification, 0, len(s.notifications)),
		NextProductID:      s.nextProductID,
		NextNotificationID: s.nextNotificationID,
	}
	for _, p := range s.products {
		state.Products = append(state.Products, copyProduct(p))
	}
	sort.Slice(state.Products, func(i, j int) bool { return state.Products[i].ID < state.Products[j].ID })
	for _, n := range s.notifications {
		state.Notifications = append(state.Notifications, copyNotification(n))
	}
	sort.Slice(state.Notifications, func(i, j int) bool { return state.Notifications[i].ID < state.Notifications[j].ID })

	if err := s.snap.Save(ctx, state); err != nil {
		s.logger.Warn("Snapshot write failed, continuing with in-memory state", "error", err)
	}
}

func copyProduct(p *tracker.Product) *tracker.Product {
	out := *p
	out.PriceHistory = make([]tracker.PricePoint, len(p.PriceHistory))
	copy(out.PriceHistory, p.PriceHistory)
	return &out
}

func copyNotification(n *tracker.Notification) *tracker.Notification {
	out := *n
	return &out
}
