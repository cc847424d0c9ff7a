package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-scraper/models"
	"car-scraper/queue"
	"car-scraper/render"
	"car-scraper/storage"
	"car-scraper/utils"
)

func newTestDiscovery(srv *siteServer, launcher render.Launcher, store storage.Store, q queue.Queue, now *time.Time) *DiscoveryJob {
	j := NewDiscoveryJob(DiscoveryOptions{
		SearchURL:         srv.URL + searchPath,
		ResultWaitTimeout: time.Second,
	}, launcher, store, q, utils.NopLogger())
	j.Now = func() time.Time { return *now }
	return j
}

func TestDiscoveryEndToEndSkipsMalformedCard(t *testing.T) {
	for _, panics := range []bool{false, true} {
		srv := newSiteServer(t)
		srv.set(searchPath, searchPage(
			card{"500000001", "Skoda Octavia Combi", "12.500"},
			card{"500000002", "BMW 118i", "9.900"},
			card{"500000003", "Audi A3 Sportback", "14.200"},
		))
		launcher := srv.launcher()
		launcher.Faulty = func(href string) bool { return strings.Contains(href, "500000003") }
		launcher.Panic = panics

		store := storage.NewMemoryStore()
		q := queue.NewMemoryQueue()
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		run, err := newTestDiscovery(srv, launcher, store, q, &now).Run(context.Background())
		require.NoError(t, err, "panic=%v", panics)
		assert.Equal(t, models.RunStatusSuccess, run.Status)
		assert.Equal(t, 3, run.Found)
		assert.Equal(t, 2, run.Added)
		assert.Equal(t, 0, run.Updated)
		assert.Equal(t, 1, run.Skipped)
		require.NotNil(t, run.CompletedAt)

		count, _ := store.CountListings(context.Background())
		assert.Equal(t, 2, count)

		skoda, err := store.GetListing(context.Background(), "500000001")
		require.NoError(t, err)
		assert.Equal(t, "Skoda", *skoda.Brand)
		assert.Equal(t, "Octavia", *skoda.Model)
		assert.True(t, skoda.Price.Amount.Equal(decimal.NewFromInt(12500)))
		assert.Equal(t, "1010 Wien", *skoda.Location)
		assert.Equal(t, []string{"https://cache.willhaben.at/mmo/500000001.jpg"}, skoda.ImageRefs)
		assert.Equal(t, now, skoda.FirstSeenAt)

		latest, err := store.LatestRun(context.Background())
		require.NoError(t, err)
		assert.Equal(t, run.ID, latest.ID)
		assert.Equal(t, models.RunStatusSuccess, latest.Status)

		queued, _ := q.Pop(context.Background(), 10)
		assert.Equal(t, []string{"500000001", "500000002"}, queued)

		assert.Equal(t, 1, launcher.Opened())
		assert.Equal(t, 1, launcher.Closed())
	}
}

func TestDiscoveryIsIdempotent(t *testing.T) {
	srv := newSiteServer(t)
	srv.set(searchPath, searchPage(numberedCards(700000001, 4)...))
	store := storage.NewMemoryStore()
	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := first
	job := newTestDiscovery(srv, srv.launcher(), store, nil, &now)

	run, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, run.Added)

	now = first.Add(5 * time.Minute)
	run, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Added)
	assert.Equal(t, 4, run.Updated)
	assert.Equal(t, 0, run.Deactivated)

	all, err := store.AllListings(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, l := range all {
		assert.Equal(t, first, l.FirstSeenAt, l.ID)
		assert.Equal(t, now, l.LastSeenAt, l.ID)
		assert.False(t, l.LastSeenAt.Before(l.FirstSeenAt))
		assert.True(t, l.Active)
	}

	runs, _ := store.ListRuns(context.Background(), 0)
	assert.Len(t, runs, 2)
}

func TestDiscoveryDeactivatesOnlyAboveThreshold(t *testing.T) {
	ctx := context.Background()
	seenBefore := time.Date(2025, 5, 30, 12, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		cards           int
		wantDeactivated int
	}{
		{"small batch keeps everything", 5, 0},
		{"large batch deactivates unseen", 12, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newSiteServer(t)
			srv.set(searchPath, searchPage(numberedCards(800000001, tt.cards)...))
			store := storage.NewMemoryStore()
			for _, id := range []string{"100000001", "100000002", "100000003"} {
				require.NoError(t, store.InsertListing(ctx, storedListing(id, seenBefore)))
			}

			run, err := newTestDiscovery(srv, srv.launcher(), store, nil, &now).Run(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.cards, run.Added)
			assert.Equal(t, tt.wantDeactivated, run.Deactivated)

			old, _ := store.GetListing(ctx, "100000001")
			assert.Equal(t, tt.wantDeactivated == 0, old.Active)
		})
	}
}

func TestDiscoveryEmptyPageSucceeds(t *testing.T) {
	srv := newSiteServer(t)
	srv.set(searchPath, `<html><body><p>Keine Treffer</p></body></html>`)
	launcher := srv.launcher()
	store := storage.NewMemoryStore()
	now := time.Now()

	run, err := newTestDiscovery(srv, launcher, store, nil, &now).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	assert.Zero(t, run.Found)
	assert.Zero(t, run.Added)
	assert.Equal(t, 1, launcher.Closed())
}

func TestDiscoveryNavigationFailureMarksRunFailed(t *testing.T) {
	srv := newSiteServer(t)
	srv.fail(http.StatusForbidden)
	launcher := srv.launcher()
	store := storage.NewMemoryStore()
	require.NoError(t, store.InsertListing(context.Background(), storedListing("100000001", time.Now())))
	now := time.Now()

	run, err := newTestDiscovery(srv, launcher, store, nil, &now).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorDetail)
	assert.Contains(t, *run.ErrorDetail, "403")
	assert.Equal(t, 1, launcher.Opened())
	assert.Equal(t, 1, launcher.Closed())

	latest, err := store.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, latest.Status)

	kept, err := store.GetListing(context.Background(), "100000001")
	require.NoError(t, err)
	assert.True(t, kept.Active, "a failed run must not touch stored data")
}

func TestDiscoveryLauncherFailure(t *testing.T) {
	srv := newSiteServer(t)
	launcher := srv.launcher()
	launcher.Err = errors.New("chrome not found")
	store := storage.NewMemoryStore()
	now := time.Now()

	run, err := newTestDiscovery(srv, launcher, store, nil, &now).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, *run.ErrorDetail, "chrome not found")
	assert.Zero(t, launcher.Opened())
}
