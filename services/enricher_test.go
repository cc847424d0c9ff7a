package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-scraper/cache"
	"car-scraper/extract"
	"car-scraper/models"
	"car-scraper/queue"
	"car-scraper/storage"
	"car-scraper/utils"
)

const detailPage = `<!DOCTYPE html><html><head>
<meta property="og:image" content="https://cache.willhaben.at/mmo/d/og.jpg">
</head><body><main>
<div class="Gallery">
  <img src="https://cache.willhaben.at/mmo/d/1.jpg">
  <img data-src="https://cache.willhaben.at/mmo/d/2.jpg">
  <img src="https://www.willhaben.at/static/placeholder.png">
</div>
<span data-testid="ad-detail-ad-edit-date-top">Zuletzt geändert: 28.05.2025, 14:30 Uhr</span>
</main></body></html>`

type enrichFixture struct {
	srv   *siteServer
	store *storage.MemoryStore
	queue *queue.MemoryQueue
	cache *cache.MemoryCache
	now   time.Time
}

func newEnrichFixture(t *testing.T) *enrichFixture {
	t.Helper()
	return &enrichFixture{
		srv:   newSiteServer(t),
		store: storage.NewMemoryStore(),
		queue: queue.NewMemoryQueue(),
		cache: cache.NewMemoryCache(),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// addListing stores a thin listing whose detail page lives on the test server.
func (f *enrichFixture) addListing(t *testing.T, id string, firstSeen time.Time, refs ...string) *models.Listing {
	t.Helper()
	l := storedListing(id, firstSeen)
	l.DetailURL = f.srv.URL + "/iad/gebrauchtwagen/d/auto/inserat-" + id + "/"
	l.ImageRefs = append([]string{}, refs...)
	require.NoError(t, f.store.InsertListing(context.Background(), l))
	return l
}

func (f *enrichFixture) enricher(batch int) *Enricher {
	e := NewEnricher(EnrichOptions{BatchSize: batch}, f.srv.launcher(), f.store, f.queue, f.cache, utils.NopLogger())
	e.Now = func() time.Time { return f.now }
	return e
}

func TestEnricherFillsGalleryAndPostedAt(t *testing.T) {
	ctx := context.Background()
	f := newEnrichFixture(t)
	l := f.addListing(t, "600000001", f.now.Add(-time.Hour), "https://cache.willhaben.at/mmo/d/1.jpg")
	f.srv.set("/iad/gebrauchtwagen/d/auto/inserat-600000001/", detailPage)

	res, err := f.enricher(20).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, EnrichResult{Candidates: 1, Enriched: 1}, res)

	got, err := f.store.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cache.willhaben.at/mmo/d/1.jpg",
		"https://cache.willhaben.at/mmo/d/2.jpg",
		"https://cache.willhaben.at/mmo/d/og.jpg",
	}, got.ImageRefs)
	require.NotNil(t, got.PostedAt)
	vienna := extract.NewTimeParser(0).Location
	assert.True(t, got.PostedAt.Equal(time.Date(2025, 5, 28, 14, 30, 0, 0, vienna)), got.PostedAt.String())
	assert.Equal(t, f.now, got.UpdatedAt)

	// the attempt marker keeps the listing out of the next batch
	res, err = f.enricher(20).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
}

func TestEnricherFailuresDoNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	f := newEnrichFixture(t)
	f.addListing(t, "600000001", f.now.Add(-2*time.Hour))
	f.addListing(t, "600000002", f.now.Add(-time.Hour))
	f.srv.set("/iad/gebrauchtwagen/d/auto/inserat-600000001/", detailPage)
	// 600000002 has no page: the server answers 404

	res, err := f.enricher(20).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Enriched)
	assert.Equal(t, 1, res.Failed)

	_, err = f.cache.Get(markerPrefix + "600000002")
	assert.NoError(t, err, "failed attempts are marked too")
}

func TestEnricherPrefersQueuedListings(t *testing.T) {
	ctx := context.Background()
	f := newEnrichFixture(t)
	f.addListing(t, "600000001", f.now.Add(-48*time.Hour))
	f.addListing(t, "600000002", f.now)
	f.srv.set("/iad/gebrauchtwagen/d/auto/inserat-600000001/", detailPage)
	f.srv.set("/iad/gebrauchtwagen/d/auto/inserat-600000002/", detailPage)
	require.NoError(t, f.queue.Push(ctx, "600000001", "999999999"))

	res, err := f.enricher(1).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enriched)

	older, _ := f.store.GetListing(ctx, "600000001")
	newer, _ := f.store.GetListing(ctx, "600000002")
	assert.Len(t, older.ImageRefs, 3)
	assert.Empty(t, newer.ImageRefs)

	n, _ := f.queue.Len(ctx)
	assert.Equal(t, 1, n, "ids beyond the batch stay queued")
}

func TestEnricherKeepsLargerExistingData(t *testing.T) {
	ctx := context.Background()
	f := newEnrichFixture(t)
	posted := time.Date(2025, 5, 28, 14, 30, 0, 0, extract.NewTimeParser(0).Location)
	l := f.addListing(t, "600000001", f.now, "https://cache.willhaben.at/mmo/d/x.jpg")
	require.NoError(t, f.store.UpdateEnrichment(ctx, l.ID, l.ImageRefs, &posted, f.now))
	f.srv.set("/iad/gebrauchtwagen/d/auto/inserat-600000001/",
		`<html><body><main><span data-testid="ad-detail-ad-edit-date">28.05.2025, 14:30</span></main></body></html>`)

	res, err := f.enricher(20).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)

	got, _ := f.store.GetListing(ctx, l.ID)
	assert.Equal(t, []string{"https://cache.willhaben.at/mmo/d/x.jpg"}, got.ImageRefs)
}

func TestEnricherSkipsRichAndInactiveListings(t *testing.T) {
	ctx := context.Background()
	f := newEnrichFixture(t)
	f.addListing(t, "600000001", f.now, "a", "b")
	inactive := storedListing("600000002", f.now)
	inactive.Active = false
	require.NoError(t, f.store.InsertListing(ctx, inactive))
	require.NoError(t, f.queue.Push(ctx, "600000001", "600000002"))

	launcher := f.srv.launcher()
	e := NewEnricher(EnrichOptions{}, launcher, f.store, f.queue, f.cache, utils.NopLogger())
	res, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates)
	assert.Zero(t, launcher.Opened(), "no session is opened without work")
}

func TestEnricherReachesOlderListingsPastMarkers(t *testing.T) {
	ctx := context.Background()
	f := newEnrichFixture(t)
	const total = 60
	// one image keeps every listing thin after its visit
	page := `<html><body><main><div class="Gallery"><img src="https://cache.willhaben.at/mmo/d/only.jpg"></div></main></body></html>`
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("61%07d", i)
		f.addListing(t, id, f.now.Add(-time.Duration(i)*time.Minute))
		f.srv.set("/iad/gebrauchtwagen/d/auto/inserat-"+id+"/", page)
	}

	for run := 1; run <= 3; run++ {
		res, err := f.enricher(20).Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 20, res.Candidates, "run %d", run)
		assert.Equal(t, 20, res.Enriched, "run %d", run)
	}

	oldest, err := f.store.GetListing(ctx, fmt.Sprintf("61%07d", total-1))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cache.willhaben.at/mmo/d/only.jpg"}, oldest.ImageRefs)

	res, err := f.enricher(20).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Candidates, "every listing is marked")
}
