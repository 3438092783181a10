// Package notify delivers price-drop alerts through pluggable providers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pricedrop-notifier/pkg/tracker"
)

// Provider defines the interface for alert delivery implementations.
type Provider interface {
	// Send delivers one alert message.
	Send(ctx context.Context, text string) error
}

// Sender formats drop alerts and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new alert sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// SendDropAlert delivers an alert for one stored notification.
func (s *Sender) SendDropAlert(ctx context.Context, n *tracker.Notification) error {
	s.logger.Info("Sending drop alert",
		"notification_id", n.ID,
		"product_id", n.ProductID,
		"dropped_pct", n.PercentageDropped)

	return s.provider.Send(ctx, formatDropAlert(n))
}

func formatDropAlert(n *tracker.Notification) string {
	var b strings.Builder
	b.WriteString("Price drop detected!\n\n")
	fmt.Fprintf(&b, "Product: %s\n", n.ProductName)
	fmt.Fprintf(&b, "Old price: %d\n", n.OldPrice)
	fmt.Fprintf(&b, "New price: %d\n", n.NewPrice)
	fmt.Fprintf(&b, "Dropped: %d%%\n", n.PercentageDropped)
	fmt.Fprintf(&b, "\nLink: %s", n.ProductURL)
	return b.String()
}
