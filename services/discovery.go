package services

import (
	"context"
	"fmt"
	"time"

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
	DefaultNavigationTimeout = 30 * time.Second
	DefaultResultWaitTimeout = 10 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	defaultScrollSteps       = 3
	finishTimeout            = 10 * time.Second
)

// DiscoveryOptions configures a DiscoveryJob.
type DiscoveryOptions struct {
	SearchURL             string
	Origin                string
	MaxListings           int
	DeactivationThreshold int
	NavigationTimeout     time.Duration
	ResultWaitTimeout     time.Duration
	SettleDelay           time.Duration
	PostedAtOffset        time.Duration
}

// DiscoveryJob runs one pass over the search results page: discover,
// assemble, clean, reconcile, and record the run.
type DiscoveryJob struct {
	launcher   render.Launcher
	store      storage.Store
	queue      queue.Queue
	discoverer *willhaben.Discoverer
	assembler  *willhaben.Assembler
	cleaner    *Cleaner
	reconciler *Reconciler
	searchURL  string
	load       render.LoadOptions
	logger     *utils.Logger

	// Now is the run clock; tests pin it.
	Now func() time.Time
}

// NewDiscoveryJob wires a job. q may be nil when no enrichment queue is
// configured.
func NewDiscoveryJob(opts DiscoveryOptions, launcher render.Launcher, store storage.Store, q queue.Queue, logger *utils.Logger) *DiscoveryJob {
	if opts.SearchURL == "" {
		opts.SearchURL = willhaben.DefaultSearchURL
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.ResultWaitTimeout <= 0 {
		opts.ResultWaitTimeout = DefaultResultWaitTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	logger = logger.With("component", JobDiscovery)
	times := extract.NewTimeParser(opts.PostedAtOffset)

	j := &DiscoveryJob{
		launcher:   launcher,
		store:      store,
		queue:      q,
		discoverer: willhaben.NewDiscoverer(opts.Origin, logger),
		assembler:  willhaben.NewAssembler(opts.Origin, opts.MaxListings, times, logger),
		cleaner:    NewCleaner(logger),
		reconciler: NewReconciler(store, opts.DeactivationThreshold, logger),
		searchURL:  opts.SearchURL,
		load: render.LoadOptions{
			NavigationTimeout: opts.NavigationTimeout,
			WaitSelector:      willhaben.ResultSelector,
			WaitTimeout:       opts.ResultWaitTimeout,
			SettleDelay:       opts.SettleDelay,
			ScrollSteps:       defaultScrollSteps,
		},
		logger: logger,
		Now:    time.Now,
	}
	j.assembler.Now = j.now
	return j
}

func (j *DiscoveryJob) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Run executes one discovery pass. The returned run is always finished
// (success or failed) once it was created; err mirrors a failed status.
func (j *DiscoveryJob) Run(ctx context.Context) (run *models.ScrapeRun, err error) {
	start := time.Now()
	run = models.NewScrapeRun(j.now())
	if err := j.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	j.logger.Info("[discovery] run %s started", run.ID)

	var newIDs []string
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			run.Fail(j.now(), err)
			j.logger.Error("[discovery] run %s failed: %v", run.ID, err)
		} else {
			run.Succeed(j.now())
			j.logger.Info("[discovery] run %s done: found=%d added=%d updated=%d deactivated=%d skipped=%d",
				run.ID, run.Found, run.Added, run.Updated, run.Deactivated, run.Skipped)
		}
		j.finish(ctx, run, newIDs, time.Since(start))
	}()

	newIDs, err = j.execute(ctx, run)
	return run, err
}

func (j *DiscoveryJob) execute(ctx context.Context, run *models.ScrapeRun) ([]string, error) {
	page, err := j.launcher.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open rendering session: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			j.logger.Warn("[discovery] closing page: %v", cerr)
		}
	}()

	loaded, err := render.Load(ctx, page, j.searchURL, j.load, j.logger)
	if err != nil {
		return nil, err
	}
	if !loaded.ResultsVisible {
		j.logger.Warn("[discovery] result list not visible, scanning page anyway")
	}

	candidates, err := j.discoverer.Discover(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	if len(candidates) == 0 {
		j.logger.Warn("[discovery] no listing candidates on %s", page.URL())
		return nil, nil
	}

	assembled := j.assembler.Assemble(ctx, candidates)
	run.Found = len(assembled.Listings) + assembled.Skipped
	run.Skipped = assembled.Skipped

	batch := j.cleaner.Clean(assembled.Listings)
	res, err := j.reconciler.Reconcile(ctx, batch, j.now())
	run.Added, run.Updated, run.Deactivated = res.Added, res.Updated, res.Deactivated
	if err != nil {
		return nil, err
	}
	return res.NewIDs, nil
}

// finish persists the run record and publishes follow-up work. It uses a
// context detached from cancellation so a cancelled run is still recorded.
func (j *DiscoveryJob) finish(ctx context.Context, run *models.ScrapeRun, newIDs []string, took time.Duration) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := j.store.FinishRun(fctx, run); err != nil {
		j.logger.Error("[discovery] recording run %s: %v", run.ID, err)
	}

	metrics.RecordJob(JobDiscovery, string(run.Status), took)
	metrics.AddListingChanges(metrics.ChangeAdded, run.Added)
	metrics.AddListingChanges(metrics.ChangeUpdated, run.Updated)
	metrics.AddListingChanges(metrics.ChangeDeactivated, run.Deactivated)
	metrics.AddListingChanges(metrics.ChangeSkipped, run.Skipped)
	if stats, err := j.store.Stats(fctx); err == nil {
		metrics.SetActiveListings(stats.Active)
	}

	if run.Status != models.RunStatusSuccess || j.queue == nil || len(newIDs) == 0 {
		return
	}
	if err := j.queue.Push(fctx, newIDs...); err != nil {
		j.logger.Warn("[discovery] queueing %d new listings for enrichment: %v", len(newIDs), err)
		return
	}
	j.logger.Info("[discovery] queued %d new listings for enrichment", len(newIDs))
}
