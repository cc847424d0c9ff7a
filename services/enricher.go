package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"car-scraper/cache"
	"car-scraper/extract"
	"car-scraper/metrics"
	"car-scraper/models"
	"car-scraper/queue"
	"car-scraper/render"
	"car-scraper/scraper/willhaben"
	"car-scraper/storage"
	"car-scraper/utils"
)

const (
	DefaultEnrichBatchSize  = 20
	DefaultEnrichRetryAfter = 6 * time.Hour
	// enrichMaxImages is the image count at or below which a listing is
	// considered thin.
	enrichMaxImages = 1
	markerPrefix    = "car-scraper:enrich:attempted:"
)

// EnrichOptions configures an Enricher.
type EnrichOptions struct {
	Origin            string
	BatchSize         int
	RetryAfter        time.Duration
	RequestsPerSecond float64
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	PostedAtOffset    time.Duration
}

// EnrichResult summarises one enrichment pass.
type EnrichResult struct {
	Candidates int `json:"candidates"`
	Enriched   int `json:"enriched"`
	Unchanged  int `json:"unchanged"`
	Failed     int `json:"failed"`
}

// Enricher visits detail pages of thin listings to fill in the image
// gallery and posting time. It is the only writer of image_refs and
// posted_at after creation.
type Enricher struct {
	launcher   render.Launcher
	store      storage.ListingStore
	queue      queue.Queue
	cache      cache.CacheService
	extractor  *willhaben.DetailExtractor
	pacer      *utils.Pacer
	batchSize  int
	retryAfter time.Duration
	load       render.LoadOptions
	logger     *utils.Logger

	Now func() time.Time
}

// NewEnricher wires an Enricher. q and c may be nil.
func NewEnricher(opts EnrichOptions, launcher render.Launcher, store storage.ListingStore, q queue.Queue, c cache.CacheService, logger *utils.Logger) *Enricher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEnrichBatchSize
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = DefaultEnrichRetryAfter
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	logger = logger.With("component", "enricher")
	return &Enricher{
		launcher:   launcher,
		store:      store,
		queue:      q,
		cache:      c,
		extractor:  willhaben.NewDetailExtractor(opts.Origin, extract.NewTimeParser(opts.PostedAtOffset), logger),
		pacer:      utils.NewPacer(opts.RequestsPerSecond),
		batchSize:  opts.BatchSize,
		retryAfter: opts.RetryAfter,
		load: render.LoadOptions{
			NavigationTimeout: opts.NavigationTimeout,
			SettleDelay:       opts.SettleDelay,
		},
		logger: logger,
		Now:    time.Now,
	}
}

func (e *Enricher) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run enriches one batch. Per-listing failures are counted, not returned.
func (e *Enricher) Run(ctx context.Context) (res EnrichResult, err error) {
	start := time.Now()
	status := "success"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			status = "failed"
			e.logger.Error("[enricher] run failed: %v", err)
		}
		metrics.RecordJob(JobEnrichment, status, time.Since(start))
		metrics.AddListingChanges(metrics.ChangeEnriched, res.Enriched)
	}()

	candidates, err := e.candidates(ctx)
	if err != nil {
		return res, err
	}
	res.Candidates = len(candidates)
	if len(candidates) == 0 {
		e.logger.Info("[enricher] nothing to enrich")
		return res, nil
	}

	page, err := e.launcher.Open(ctx)
	if err != nil {
		return res, fmt.Errorf("open rendering session: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			e.logger.Warn("[enricher] closing page: %v", cerr)
		}
	}()

	for _, l := range candidates {
		if err := e.pacer.Wait(ctx); err != nil {
			return res, err
		}
		changed, err := e.enrichSafe(ctx, page, l)
		e.markAttempted(l.ID)
		switch {
		case err != nil:
			res.Failed++
			e.logger.Warn("[enricher] %s skipped: %v", l.ID, err)
		case changed:
			res.Enriched++
		default:
			res.Unchanged++
		}
	}

	e.logger.Info("[enricher] candidates=%d enriched=%d unchanged=%d failed=%d",
		res.Candidates, res.Enriched, res.Unchanged, res.Failed)
	return res, nil
}

// candidates takes queued priority ids first, then tops up from the store.
func (e *Enricher) candidates(ctx context.Context) ([]*models.Listing, error) {
	out := make([]*models.Listing, 0, e.batchSize)
	seen := utils.NewIDSet()
	consider := func(l *models.Listing) {
		if len(out) >= e.batchSize || !l.Active || len(l.ImageRefs) > enrichMaxImages {
			return
		}
		if e.attempted(l.ID) || !seen.Add(l.ID) {
			return
		}
		out = append(out, l)
	}

	if e.queue != nil {
		ids, err := e.queue.Pop(ctx, e.batchSize)
		if err != nil {
			e.logger.Warn("[enricher] priority queue unavailable: %v", err)
		}
		for _, id := range ids {
			l, err := e.store.GetListing(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load queued listing %s: %w", id, err)
			}
			consider(l)
		}
	}

	// page past listings that are marked as recently attempted
	pageSize := e.batchSize * 2
	for offset := 0; len(out) < e.batchSize; offset += pageSize {
		rest, err := e.store.EnrichmentCandidates(ctx, enrichMaxImages, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("select enrichment candidates: %w", err)
		}
		for _, l := range rest {
			consider(l)
		}
		if len(rest) < pageSize {
			break
		}
	}
	return out, nil
}

func (e *Enricher) enrichSafe(ctx context.Context, page render.Page, l *models.Listing) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed, err = false, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.enrichOne(ctx, page, l)
}

func (e *Enricher) enrichOne(ctx context.Context, page render.Page, l *models.Listing) (bool, error) {
	if _, err := render.Load(ctx, page, l.DetailURL, e.load, e.logger); err != nil {
		return false, err
	}
	now := e.now()
	found := e.extractor.Extract(ctx, page, now)

	refs, refsChanged := l.ImageRefs, false
	if len(found.ImageRefs) > len(l.ImageRefs) {
		refs, refsChanged = found.ImageRefs, true
	}
	posted, postedChanged := l.PostedAt, false
	if found.PostedAt != nil && (l.PostedAt == nil || !found.PostedAt.Equal(*l.PostedAt)) {
		posted, postedChanged = found.PostedAt, true
	}
	if !refsChanged && !postedChanged {
		e.logger.Debug("[enricher] %s: nothing new", l.ID)
		return false, nil
	}

	if err := e.store.UpdateEnrichment(ctx, l.ID, refs, posted, now); err != nil {
		return false, fmt.Errorf("store enrichment: %w", err)
	}
	e.logger.Debug("[enricher] %s: %d images, posted at %v", l.ID, len(refs), posted)
	return true, nil
}

func (e *Enricher) attempted(id string) bool {
	if e.cache == nil {
		return false
	}
	_, err := e.cache.Get(markerPrefix + id)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		e.logger.Debug("[enricher] marker lookup for %s: %v", id, err)
	}
	return err == nil
}

func (e *Enricher) markAttempted(id string) {
	if e.cache == nil {
		return
	}
	stamp := []byte(e.now().UTC().Format(time.RFC3339))
	if err := e.cache.Set(markerPrefix+id, stamp, e.retryAfter); err != nil {
		e.logger.Debug("[enricher] marking %s: %v", id, err)
	}
}
