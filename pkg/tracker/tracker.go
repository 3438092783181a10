// Package tracker contains the core domain types for the price-drop notifier.
package tracker

import "time"

// MaxHistoryPoints bounds the price history kept per product; appending
// beyond it drops the oldest points.
const MaxHistoryPoints = 30

// PricePoint is one observed price. Product.PriceHistory keeps these
// newest-first.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price int       `json:"price"`
}

// Product is a tracked marketplace listing and its observed price state.
// Prices are integer currency units.
type Product struct {
	LastChecked    time.Time    `json:"last_checked"`
	CreatedAt      time.Time    `json:"created_at"`
	URL            string       `json:"url"`
	Title          string       `json:"title"`
	ImageURL       string       `json:"image_url"`
	PriceHistory   []PricePoint `json:"price_history"`
	ID             int          `json:"id"`
	CurrentPrice   int          `json:"current_price"`
	OriginalPrice  int          `json:"original_price"`
	DropPercentage int          `json:"drop_percentage"` // threshold in [0,100]
	NotifyOnDrop   bool         `json:"notify_on_drop"`
}

// Notification records one threshold crossing. The product fields are a
// snapshot taken at creation time and do not follow later product edits or
// deletion.
type Notification struct {
	CreatedAt         time.Time `json:"created_at"`
	ProductName       string    `json:"product_name"`
	ProductURL        string    `json:"product_url"`
	ID                int       `json:"id"`
	ProductID         int       `json:"product_id"`
	OldPrice          int       `json:"old_price"`
	NewPrice          int       `json:"new_price"`
	PercentageDropped int       `json:"percentage_dropped"`
	Read              bool      `json:"read"`
}

// ProductUpdate carries optional tracking-setting changes; nil fields are
// left as-is.
type ProductUpdate struct {
	NotifyOnDrop   *bool
	DropPercentage *int
}

// Listing is the structured result of extracting one product page.
type Listing struct {
	Title         string
	ImageURL      string
	CurrentPrice  int
	OriginalPrice int
}

// State is the full persisted snapshot: both collections plus both id
// counters, enough to reconstruct a Store on restart.
type State struct {
	Products           []*Product      `json:"products"`
	Notifications      []*Notification `json:"notifications"`
	NextProductID      int             `json:"next_product_id"`
	NextNotificationID int             `json:"next_notification_id"`
}
