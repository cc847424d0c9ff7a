package storage

import (
	"context"
	"errors"
	"time"

	"car-scraper/models"
)

// ErrNotFound is returned when a listing or run does not exist.
var ErrNotFound = errors.New("storage: not found")

// ListingStore persists listings. Implementations copy records on the way
// in and out; callers never share memory with the store.
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	InsertListing(ctx context.Context, l *models.Listing) error
	// UpdateListing rewrites a listing from an observation. It never shrinks
	// the stored image refs and only fills a missing posted time, so a
	// concurrent enrichment is not undone.
	UpdateListing(ctx context.Context, l *models.Listing) error
	// DeactivateMissing marks every active listing whose id is not in seen
	// as inactive and returns how many changed.
	DeactivateMissing(ctx context.Context, seen []string, now time.Time) (int, error)
	// QueryListings returns one page of matches and the total match count.
	QueryListings(ctx context.Context, q models.ListingQuery) ([]*models.Listing, int, error)
	// AllListings returns every listing (optionally only active ones) in
	// query order.
	AllListings(ctx context.Context, activeOnly bool) ([]*models.Listing, error)
	// EnrichmentCandidates returns one page of active listings with at most
	// maxImages images, newest first.
	EnrichmentCandidates(ctx context.Context, maxImages, offset, limit int) ([]*models.Listing, error)
	UpdateEnrichment(ctx context.Context, id string, imageRefs []string, postedAt *time.Time, now time.Time) error
	// DeleteInactiveBefore removes inactive listings last seen before cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountListings(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*models.ListingStats, error)
}

// RunStore persists discovery run records.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.ScrapeRun) error
	FinishRun(ctx context.Context, run *models.ScrapeRun) error
	LatestRun(ctx context.Context) (*models.ScrapeRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.ScrapeRun, error)
}

// Store is the full persistence surface used by the jobs and the API.
type Store interface {
	ListingStore
	RunStore
	Ping(ctx context.Context) error
	Close() error
}
