package storage_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-scraper/models"
	"car-scraper/storage"
)

func listing(id string, now time.Time, price int64, brand string, year int) *models.Listing {
	l := &models.Listing{
		ID:          id,
		Title:       brand + " " + id,
		Brand:       models.StringPtr(brand),
		Year:        models.IntPtr(year),
		DetailURL:   "https://www.willhaben.at/iad/x-" + id,
		FirstSeenAt: now,
		LastSeenAt:  now,
		Active:      true,
		ImageRefs:   []string{},
	}
	if price > 0 {
		l.Price = &models.Price{Amount: decimal.NewFromInt(price), Currency: models.DefaultCurrency}
	}
	return l
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()

	l := listing("1", now, 1000, "BMW", 2018)
	require.NoError(t, s.InsertListing(ctx, l))
	l.Title = "mutated"

	got, err := s.GetListing(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "BMW 1", got.Title)

	got.Title = "mutated again"
	again, _ := s.GetListing(ctx, "1")
	assert.Equal(t, "BMW 1", again.Title)

	assert.Error(t, s.InsertListing(ctx, listing("1", now, 0, "BMW", 2018)))
	_, err = s.GetListing(ctx, "2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryStoreUpdateKeepsFirstSeen(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertListing(ctx, listing("1", first, 1000, "BMW", 2018)))

	later := first.Add(time.Hour)
	upd := listing("1", later, 900, "BMW", 2018)
	require.NoError(t, s.UpdateListing(ctx, upd))

	got, _ := s.GetListing(ctx, "1")
	assert.Equal(t, first, got.FirstSeenAt)
	assert.Equal(t, later, got.LastSeenAt)
	assert.True(t, got.Price.Amount.Equal(decimal.NewFromInt(900)))

	assert.ErrorIs(t, s.UpdateListing(ctx, listing("9", later, 0, "BMW", 2018)), storage.ErrNotFound)
}

func TestMemoryStoreDeactivateAndSweep(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.InsertListing(ctx, listing(id, now.Add(-8*24*time.Hour), 0, "Audi", 2017)))
	}

	n, err := s.DeactivateMissing(ctx, []string{"1"}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeactivateMissing(ctx, []string{"1"}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already inactive rows are not counted twice")

	deleted, err := s.DeleteInactiveBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	count, _ := s.CountListings(ctx)
	assert.Equal(t, 1, count)
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, b := range []string{"BMW", "Audi", "BMW", "Opel", "BMW"} {
		l := listing(string(rune('a'+i)), now.Add(time.Duration(i)*time.Minute), int64(1000*(i+1)), b, 2010+i)
		require.NoError(t, s.InsertListing(ctx, l))
	}
	inactive := listing("z", now, 500, "BMW", 2020)
	inactive.Active = false
	require.NoError(t, s.InsertListing(ctx, inactive))

	minPrice := decimal.NewFromInt(2000)
	got, total, err := s.QueryListings(ctx, models.ListingQuery{
		Brand: "bmw", MinPrice: &minPrice, ActiveOnly: true, Limit: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 1)
	assert.Equal(t, "e", got[0].ID, "newest sighting first")

	got, total, err = s.QueryListings(ctx, models.ListingQuery{Brand: "BMW", Page: 5, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, got)
}

func TestMemoryStoreQueryTreatsWildcardsLiterally(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()
	require.NoError(t, s.InsertListing(ctx, listing("a", now, 1000, "BMW", 2015)))

	for _, brand := range []string{"%", "_", "B_W"} {
		got, total, err := s.QueryListings(ctx, models.ListingQuery{Brand: brand})
		require.NoError(t, err)
		assert.Zero(t, total, brand)
		assert.Empty(t, got, brand)
	}
}

func TestMemoryStoreEnrichmentCandidates(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()

	old := listing("old", now.Add(-time.Hour), 0, "VW", 2015)
	fresh := listing("fresh", now, 0, "VW", 2015)
	rich := listing("rich", now, 0, "VW", 2015)
	rich.ImageRefs = []string{"a", "b", "c"}
	for _, l := range []*models.Listing{old, fresh, rich} {
		require.NoError(t, s.InsertListing(ctx, l))
	}

	got, err := s.EnrichmentCandidates(ctx, 1, 0, 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].ID)
	assert.Equal(t, "old", got[1].ID)

	page, err := s.EnrichmentCandidates(ctx, 1, 1, 20)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "old", page[0].ID)

	page, err = s.EnrichmentCandidates(ctx, 1, 5, 20)
	require.NoError(t, err)
	assert.Empty(t, page)

	posted := now.Add(-48 * time.Hour)
	require.NoError(t, s.UpdateEnrichment(ctx, "old", []string{"x", "y"}, &posted, now))
	updated, _ := s.GetListing(ctx, "old")
	assert.Equal(t, []string{"x", "y"}, updated.ImageRefs)
	assert.Equal(t, posted, *updated.PostedAt)
}

func TestMemoryStoreStatsAndRuns(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.InsertListing(ctx, listing("1", now, 1000, "BMW", 2018)))
	require.NoError(t, s.InsertListing(ctx, listing("2", now, 2001, "Audi", 2018)))
	require.NoError(t, s.InsertListing(ctx, listing("3", now, 0, "Audi", 2018)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 2, stats.DistinctBrands)
	assert.Equal(t, "1500.5", stats.AvgPrice.String())
	assert.Equal(t, "2001", stats.MaxPrice.String())

	_, err = s.LatestRun(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first := models.NewScrapeRun(now.Add(-time.Hour))
	second := models.NewScrapeRun(now)
	require.NoError(t, s.CreateRun(ctx, first))
	require.NoError(t, s.CreateRun(ctx, second))
	second.Succeed(now)
	require.NoError(t, s.FinishRun(ctx, second))

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, models.RunStatusSuccess, latest.Status)
}

func TestCSVWriter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := listing("123456", now, 15900, "BMW", 2019)
	l.ImageRefs = []string{"https://a/1.jpg", "https://a/2.jpg"}

	var buf bytes.Buffer
	w, err := storage.NewCSVStream(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Write([]*models.Listing{l, listing("7", now, 0, "Opel", 2001)}))
	require.NoError(t, w.Close())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, []string{
		"123456", "BMW 123456", "15900.00", "EUR", "BMW", "", "2019", "", "",
		"https://a/1.jpg https://a/2.jpg", "https://www.willhaben.at/iad/x-123456", "",
		"2025-06-01T12:00:00Z", "2025-06-01T12:00:00Z", "true",
	}, rows[1])
	assert.Equal(t, "", rows[2][2])

	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	fw, err := storage.NewCSVWriter(path)
	require.NoError(t, err)
	require.NoError(t, fw.Write([]*models.Listing{l}))
	require.NoError(t, fw.Close())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "123456,BMW 123456")
}
