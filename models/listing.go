package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxTitleLength bounds Listing.Title in runes.
	MaxTitleLength = 255
	// MaxDescriptionLength bounds Listing.Description in runes.
	MaxDescriptionLength = 1000
	// MaxImageRefs caps Listing.ImageRefs.
	MaxImageRefs = 10
	// DefaultCurrency is the only currency the marketplace lists in.
	DefaultCurrency = "EUR"
)

// Price is a currency-tagged decimal amount.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Listing is one normalized vehicle advertisement tracked by the system.
// Optional fields are pointers; nil means the extractor found nothing.
type Listing struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Price       *Price     `json:"price,omitempty"`
	Brand       *string    `json:"brand,omitempty"`
	Model       *string    `json:"model,omitempty"`
	Year        *int       `json:"year,omitempty"`
	Mileage     *int       `json:"mileage,omitempty"`
	Location    *string    `json:"location,omitempty"`
	ImageRefs   []string   `json:"image_refs"`
	DetailURL   string     `json:"detail_url"`
	Description string     `json:"description"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	if l.Price != nil {
		p := *l.Price
		c.Price = &p
	}
	c.Brand = cloneString(l.Brand)
	c.Model = cloneString(l.Model)
	c.Location = cloneString(l.Location)
	if l.Year != nil {
		y := *l.Year
		c.Year = &y
	}
	if l.Mileage != nil {
		m := *l.Mileage
		c.Mileage = &m
	}
	if l.PostedAt != nil {
		t := *l.PostedAt
		c.PostedAt = &t
	}
	if l.ImageRefs != nil {
		c.ImageRefs = append([]string(nil), l.ImageRefs...)
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr is a small helper for optional integers.
func IntPtr(n int) *int {
	return &n
}

// ListingQuery describes a filtered, paginated listing lookup.
type ListingQuery struct {
	Brand      string
	Model      string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	MinYear    *int
	MaxYear    *int
	SeenSince  *time.Time
	AddedSince *time.Time
	ActiveOnly bool
	Page       int
	Limit      int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Normalize clamps paging parameters to their allowed ranges.
func (q *ListingQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
}

// Offset returns the row offset for the current page.
func (q ListingQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// ListingPage is one page of query results.
type ListingPage struct {
	Listings []*Listing `json:"listings"`
	Page     int        `json:"page"`
	Limit    int        `json:"limit"`
	Total    int        `json:"total"`
	Pages    int        `json:"pages"`
	HasNext  bool       `json:"has_next"`
	HasPrev  bool       `json:"has_prev"`
}

// NewListingPage fills in the derived pagination fields.
func NewListingPage(listings []*Listing, q ListingQuery, total int) *ListingPage {
	pages := 0
	if q.Limit > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	if listings == nil {
		listings = []*Listing{}
	}
	return &ListingPage{
		Listings: listings,
		Page:     q.Page,
		Limit:    q.Limit,
		Total:    total,
		Pages:    pages,
		HasNext:  q.Page < pages,
		HasPrev:  q.Page > 1,
	}
}

// ListingStats are store-level aggregates over the listings table. Price
// figures cover active listings with a price and are nil when there are none.
type ListingStats struct {
	Active         int              `json:"active"`
	Inactive       int              `json:"inactive"`
	DistinctBrands int              `json:"distinct_brands"`
	AvgPrice       *decimal.Decimal `json:"avg_price,omitempty"`
	MinPrice       *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice       *decimal.Decimal `json:"max_price,omitempty"`
}

// InsightReport is the human-facing summary shown by the stats command.
type InsightReport struct {
	Stats              ListingStats   `json:"stats"`
	MostExpensive      *Listing       `json:"most_expensive,omitempty"`
	Newest             []*Listing     `json:"newest"`
	ListingsByBrand    map[string]int `json:"listings_by_brand"`
	ListingsByLocation map[string]int `json:"listings_by_location"`
	LastRun            *ScrapeRun     `json:"last_run,omitempty"`
}
