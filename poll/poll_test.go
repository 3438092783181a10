package poll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pricedrop-notifier/pkg/tracker"
	"pricedrop-notifier/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedExtractor returns one listing per call, in order, then repeats
// the last one.
type scriptedExtractor struct {
	mu       sync.Mutex
	listings []tracker.Listing
	calls    int
	err      error
}

func (s *scriptedExtractor) Extract(_ context.Context, _ string) (*tracker.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls - 1
	if idx >= len(s.listings) {
		idx = len(s.listings) - 1
	}
	listing := s.listings[idx]
	return &listing, nil
}

// recordingAlerter remembers every alert it was asked to deliver.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*tracker.Notification
	err    error
}

func (r *recordingAlerter) SendDropAlert(_ context.Context, n *tracker.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, n)
	return r.err
}

func newTestMonitor(extractor Extractor, st *store.Store, alerter Alerter) *Monitor {
	return New(&Config{
		Extractor: extractor,
		Store:     st,
		Alerter:   alerter,
		Logger:    testLogger(),
		Interval:  time.Hour,
	})
}

func trackedProduct(t *testing.T, st *store.Store, original, current, threshold int) *tracker.Product {
	t.Helper()
	return st.Create(context.Background(), &tracker.Product{
		URL:            "https://www.amazon.com/dp/B0TEST",
		Title:          "Tracked Item",
		CurrentPrice:   current,
		OriginalPrice:  original,
		NotifyOnDrop:   true,
		DropPercentage: threshold,
		PriceHistory:   []tracker.PricePoint{{Date: time.Now().UTC(), Price: current}},
	})
}

func TestDropPercent(t *testing.T) {
	tests := []struct {
		name     string
		original int
		price    int
		want     int
	}{
		{"no drop", 1000, 1000, 0},
		{"half", 1000, 500, 50},
		{"rounds up", 1000, 394, 61},
		{"rounds down", 1000, 605, 40},
		{"zero original", 0, 500, 0},
		{"negative original", -10, 500, 0},
		{"price above original", 1000, 1200, -20},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DropPercent(tc.original, tc.price); got != tc.want {
				t.Errorf("DropPercent(%d, %d) = %d, want %d", tc.original, tc.price, got, tc.want)
			}
		})
	}
}

func TestThresholdCrossingNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	trackedProduct(t, st, 1000, 1000, 60)

	// 40%, 55%, 61%, 70% off the original. Only the 55 -> 61 step crosses
	// the threshold from below; the further drop stays silent.
	extractor := &scriptedExtractor{listings: []tracker.Listing{
		{Title: "Tracked Item", CurrentPrice: 600, OriginalPrice: 1000},
		{Title: "Tracked Item", CurrentPrice: 450, OriginalPrice: 1000},
		{Title: "Tracked Item", CurrentPrice: 390, OriginalPrice: 1000},
		{Title: "Tracked Item", CurrentPrice: 300, OriginalPrice: 1000},
	}}
	alerter := &recordingAlerter{}
	m := newTestMonitor(extractor, st, alerter)

	for i := 0; i < 4; i++ {
		m.CheckAll(ctx)
	}

	notifications := st.Notifications()
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want exactly 1", len(notifications))
	}
	n := notifications[0]
	if n.OldPrice != 450 || n.NewPrice != 390 || n.PercentageDropped != 61 {
		t.Errorf("notification = %+v, want old 450, new 390, 61%%", n)
	}
	if len(alerter.alerts) != 1 {
		t.Errorf("delivered alerts = %d, want 1", len(alerter.alerts))
	}
}

func TestAlreadyPastThresholdStaysSilent(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	// Already exactly at the 50% threshold before the check.
	trackedProduct(t, st, 2000, 1000, 50)

	extractor := &scriptedExtractor{listings: []tracker.Listing{
		{Title: "Tracked Item", CurrentPrice: 800, OriginalPrice: 2000},
	}}
	m := newTestMonitor(extractor, st, &recordingAlerter{})
	m.CheckAll(ctx)

	if got := st.Notifications(); len(got) != 0 {
		t.Errorf("notifications = %d, want 0 when already at threshold", len(got))
	}
}

func TestCrossingFromBelowThresholdFires(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	// 45% off before the check, 55% after: crosses 50 from below.
	trackedProduct(t, st, 2000, 1100, 50)

	extractor := &scriptedExtractor{listings: []tracker.Listing{
		{Title: "Tracked Item", CurrentPrice: 900, OriginalPrice: 2000},
	}}
	m := newTestMonitor(extractor, st, &recordingAlerter{})
	m.CheckAll(ctx)

	if got := st.Notifications(); len(got) != 1 {
		t.Errorf("notifications = %d, want 1", len(got))
	}
}

func TestNotifyDisabledStaysSilent(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	p := trackedProduct(t, st, 1000, 1000, 10)
	off := false
	if _, err := st.Update(ctx, p.ID, tracker.ProductUpdate{NotifyOnDrop: &off}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	extractor := &scriptedExtractor{listings: []tracker.Listing{
		{Title: "Tracked Item", CurrentPrice: 100, OriginalPrice: 1000},
	}}
	m := newTestMonitor(extractor, st, &recordingAlerter{})
	m.CheckAll(ctx)

	if got := st.Notifications(); len(got) != 0 {
		t.Errorf("notifications = %d, want 0 when notify is off", len(got))
	}
}

func TestExtractionFailureLeavesProductUntouched(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	p := trackedProduct(t, st, 1000, 800, 50)

	extractor := &scriptedExtractor{err: errors.New("bot blocked")}
	m := newTestMonitor(extractor, st, &recordingAlerter{})
	m.CheckAll(ctx)

	got, err := st.Product(p.ID)
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if got.CurrentPrice != 800 {
		t.Errorf("CurrentPrice = %d, want untouched 800", got.CurrentPrice)
	}
	if len(got.PriceHistory) != 1 {
		t.Errorf("history length = %d, want untouched 1", len(got.PriceHistory))
	}
	if !got.LastChecked.Equal(p.LastChecked) {
		t.Error("LastChecked advanced despite extraction failure")
	}
}

func TestListingOriginalClampedToCurrent(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	p := trackedProduct(t, st, 1000, 1000, 50)

	// Markup claims a list price below the selling price.
	extractor := &scriptedExtractor{listings: []tracker.Listing{
		{Title: "Tracked Item", CurrentPrice: 800, OriginalPrice: 500},
	}}
	m := newTestMonitor(extractor, st, &recordingAlerter{})
	m.CheckAll(ctx)

	got, err := st.Product(p.ID)
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if got.OriginalPrice != 800 {
		t.Errorf("OriginalPrice = %d, want clamped to current 800", got.OriginalPrice)
	}
}

// blockingExtractor holds Extract until released.
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingExtractor) Extract(_ context.Context, _ string) (*tracker.Listing, error) {
	close(b.started)
	<-b.release
	return &tracker.Listing{Title: "Tracked Item", CurrentPrice: 100, OriginalPrice: 100}, nil
}

func TestConcurrentTriggerIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	trackedProduct(t, st, 100, 100, 50)

	extractor := &blockingExtractor{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := newTestMonitor(extractor, st, &recordingAlerter{})

	done := make(chan struct{})
	go func() {
		m.CheckAll(ctx)
		close(done)
	}()

	<-extractor.started
	// The pass is mid-flight; a second trigger must return immediately
	// without touching the extractor again.
	m.CheckAll(ctx)
	close(extractor.release)
	<-done

	got, err := st.Product(1)
	if err != nil {
		t.Fatalf("Product: %v", err)
	}
	if len(got.PriceHistory) != 2 {
		t.Errorf("history length = %d, want 2 (one seed, one pass)", len(got.PriceHistory))
	}
}

func TestAlertDeliveryFailureKeepsNotification(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewDiscardSnapshotter(), testLogger())
	trackedProduct(t, st, 1000, 1000, 30)

	extractor := &scriptedExtractor{listings: []tracker.Listing{
		{Title: "Tracked Item", CurrentPrice: 600, OriginalPrice: 1000},
	}}
	alerter := &recordingAlerter{err: errors.New("telegram down")}
	m := newTestMonitor(extractor, st, alerter)
	m.CheckAll(ctx)

	if got := st.Notifications(); len(got) != 1 {
		t.Errorf("notifications = %d, want 1 despite delivery failure", len(got))
	}
}
