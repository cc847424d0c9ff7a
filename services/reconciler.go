package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"car-scraper/models"
	"car-scraper/storage"
	"car-scraper/utils"
)

// DefaultDeactivationThreshold is the batch size a run must exceed before
// unseen listings are deactivated.
const DefaultDeactivationThreshold = 10

// ReconcileResult counts what one batch changed. On error it holds the
// progress made before the failure.
type ReconcileResult struct {
	Added       int
	Updated     int
	Deactivated int
	// NewIDs lists inserted ids in batch order.
	NewIDs []string
	// DeactivationSkipped is set when the batch was too small to trust.
	DeactivationSkipped bool
}

// Reconciler merges a discovery batch into the listing store. It is the
// only writer of first_seen_at and active.
type Reconciler struct {
	store     storage.ListingStore
	threshold int
	logger    *utils.Logger
}

// NewReconciler creates a Reconciler. A non-positive threshold selects
// DefaultDeactivationThreshold.
func NewReconciler(store storage.ListingStore, threshold int, logger *utils.Logger) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultDeactivationThreshold
	}
	return &Reconciler{store: store, threshold: threshold, logger: logger}
}

// Reconcile upserts every listing of batch and, when the batch is large
// enough, deactivates active listings missing from it. Writes are per
// record, so listings stored before an error stay stored.
func (r *Reconciler) Reconcile(ctx context.Context, batch []*models.Listing, now time.Time) (ReconcileResult, error) {
	var res ReconcileResult
	ids := make([]string, 0, len(batch))

	for _, seen := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ids = append(ids, seen.ID)

		stored, err := r.store.GetListing(ctx, seen.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			fresh := seen.Clone()
			fresh.FirstSeenAt = now
			fresh.LastSeenAt = now
			fresh.CreatedAt = now
			fresh.UpdatedAt = now
			fresh.Active = true
			if fresh.ImageRefs == nil {
				fresh.ImageRefs = []string{}
			}
			if err := r.store.InsertListing(ctx, fresh); err != nil {
				return res, fmt.Errorf("reconcile %s: %w", seen.ID, err)
			}
			res.Added++
			res.NewIDs = append(res.NewIDs, seen.ID)
		case err != nil:
			return res, fmt.Errorf("reconcile %s: %w", seen.ID, err)
		default:
			mergeObservation(stored, seen, now)
			if err := r.store.UpdateListing(ctx, stored); err != nil {
				return res, fmt.Errorf("reconcile %s: %w", seen.ID, err)
			}
			res.Updated++
		}
	}

	if len(batch) <= r.threshold {
		res.DeactivationSkipped = true
		r.logger.Warn("[reconciler] batch of %d is not above the threshold of %d, skipping deactivation",
			len(batch), r.threshold)
		return res, nil
	}

	n, err := r.store.DeactivateMissing(ctx, ids, now)
	if err != nil {
		return res, fmt.Errorf("deactivate missing: %w", err)
	}
	res.Deactivated = n
	r.logger.Info("[reconciler] added=%d updated=%d deactivated=%d", res.Added, res.Updated, res.Deactivated)
	return res, nil
}

// mergeObservation applies a fresh sighting to a stored listing. Absent
// extractions never erase known values.
func mergeObservation(stored, seen *models.Listing, now time.Time) {
	if seen.Title != "" {
		stored.Title = seen.Title
	}
	if seen.DetailURL != "" {
		stored.DetailURL = seen.DetailURL
	}
	if seen.Description != "" {
		stored.Description = seen.Description
	}
	if seen.Price != nil {
		p := *seen.Price
		stored.Price = &p
	}
	if seen.Brand != nil {
		stored.Brand = seen.Brand
	}
	if seen.Model != nil {
		stored.Model = seen.Model
	}
	if seen.Year != nil {
		stored.Year = seen.Year
	}
	if seen.Mileage != nil {
		stored.Mileage = seen.Mileage
	}
	if seen.Location != nil {
		stored.Location = seen.Location
	}
	// a card thumbnail must not shrink a gallery the enricher already stored
	if len(seen.ImageRefs) > 0 && len(seen.ImageRefs) >= len(stored.ImageRefs) {
		stored.ImageRefs = append([]string(nil), seen.ImageRefs...)
	}
	if stored.PostedAt == nil && seen.PostedAt != nil {
		t := *seen.PostedAt
		stored.PostedAt = &t
	}

	stored.LastSeenAt = now
	if stored.LastSeenAt.Before(stored.FirstSeenAt) {
		stored.LastSeenAt = stored.FirstSeenAt
	}
	stored.Active = true
	stored.UpdatedAt = now
}
