package services

import (
	"context"
	"fmt"
	"time"

	"car-scraper/metrics"
	"car-scraper/storage"
	"car-scraper/utils"
)

// DefaultRetentionWindow is how long inactive listings are kept.
const DefaultRetentionWindow = 7 * 24 * time.Hour

// Sweeper deletes inactive listings past the retention window.
type Sweeper struct {
	store     storage.ListingStore
	retention time.Duration
	logger    *utils.Logger

	Now func() time.Time
}

func NewSweeper(store storage.ListingStore, retention time.Duration, logger *utils.Logger) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetentionWindow
	}
	return &Sweeper{store: store, retention: retention, logger: logger.With("component", "sweeper"), Now: time.Now}
}

// Run deletes every inactive listing last seen before now minus the
// retention window and returns how many went.
func (s *Sweeper) Run(ctx context.Context) (deleted int, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		status := "success"
		if err != nil {
			status = "failed"
			s.logger.Error("[sweeper] failed: %v", err)
		}
		metrics.RecordJob(JobRetention, status, time.Since(start))
		metrics.AddListingChanges(metrics.ChangeDeleted, deleted)
	}()

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	cutoff := now.Add(-s.retention)
	deleted, err = s.store.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete inactive: %w", err)
	}
	s.logger.Info("[sweeper] deleted %d inactive listings last seen before %s", deleted, cutoff.Format(time.RFC3339))
	return deleted, nil
}
