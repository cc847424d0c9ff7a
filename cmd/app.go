package cmd

import (
	"context"
	"fmt"
	"time"

	"car-scraper/cache"
	"car-scraper/config"
	"car-scraper/queue"
	"car-scraper/render"
	"car-scraper/services"
	"car-scraper/storage"
	"car-scraper/utils"
)

const (
	connectRetryDelay = 2 * time.Second
	pingTimeout       = 3 * time.Second
)

// app holds the dependencies every command shares.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	store    storage.Store
	launcher render.Launcher
	queue    queue.Queue
	cache    cache.CacheService

	discovery *services.DiscoveryJob
	enricher  *services.Enricher
	sweeper   *services.Sweeper
	prober    *services.Prober
	insights  *services.InsightService
}

// newApp loads configuration and connects the store, queue and cache.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if debug {
		cfg.LogLevel = "debug"
	}
	logger := utils.NewConsoleLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	var err error
	if a.store, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	a.launcher = openLauncher(cfg, logger)
	a.queue = openQueue(ctx, cfg, logger)
	a.cache = openCache(cfg, logger)

	a.discovery = services.NewDiscoveryJob(services.DiscoveryOptions{
		SearchURL:             cfg.SearchURL,
		Origin:                cfg.SiteOrigin,
		MaxListings:           cfg.MaxListings,
		DeactivationThreshold: cfg.DeactivationThreshold,
		NavigationTimeout:     cfg.NavigationTimeout,
		ResultWaitTimeout:     cfg.ResultWaitTimeout,
		SettleDelay:           cfg.SettleDelay,
		PostedAtOffset:        cfg.PostedAtOffset,
	}, a.launcher, a.store, a.queue, logger)
	a.enricher = services.NewEnricher(services.EnrichOptions{
		Origin:            cfg.SiteOrigin,
		BatchSize:         cfg.EnrichBatchSize,
		RetryAfter:        cfg.EnrichRetryAfter,
		RequestsPerSecond: cfg.EnrichRPS,
		NavigationTimeout: cfg.NavigationTimeout,
		SettleDelay:       cfg.SettleDelay,
		PostedAtOffset:    cfg.PostedAtOffset,
	}, a.launcher, a.store, a.queue, a.cache, logger)
	a.sweeper = services.NewSweeper(a.store, cfg.RetentionWindow, logger)
	a.prober = services.NewProber(a.launcher, cfg.SearchURL, render.LoadOptions{
		NavigationTimeout: cfg.NavigationTimeout,
		WaitTimeout:       cfg.ResultWaitTimeout,
		SettleDelay:       cfg.SettleDelay,
	}, logger)
	a.insights = services.NewInsightService(a.store, logger)
	return a, nil
}

func (a *app) Close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("[app] closing queue: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("[app] closing store: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Store, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("[app] Using the in-memory store; nothing survives a restart")
		return storage.NewMemoryStore(), nil
	}
	retry := &utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: connectRetryDelay, Logger: logger}
	store, err := storage.NewPostgresStore(ctx, cfg.DSN(), retry)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	logger.Info("[app] Connected to PostgreSQL")
	return store, nil
}

func openLauncher(cfg *config.Config, logger *utils.Logger) render.Launcher {
	if cfg.Renderer == config.RendererStatic {
		logger.Info("[app] Rendering with plain HTTP fetches; script-rendered content is invisible")
		return render.NewStaticLauncher(nil)
	}
	return render.NewChromeLauncher(cfg.ChromeBin, logger)
}

// openQueue prefers Redis and falls back to an in-process queue, which only
// helps when discovery and enrichment share a process.
func openQueue(ctx context.Context, cfg *config.Config, logger *utils.Logger) queue.Queue {
	if cfg.RedisAddr == "" {
		return queue.NewMemoryQueue()
	}
	q := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisDB, cfg.RedisQueueKey)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := q.Ping(pingCtx); err != nil {
		logger.Warn("[app] Redis at %s unreachable (%v), using an in-process queue", cfg.RedisAddr, err)
		_ = q.Close()
		return queue.NewMemoryQueue()
	}
	logger.Info("[app] Enrichment queue on Redis %s (key %s)", cfg.RedisAddr, cfg.RedisQueueKey)
	return q
}

func openCache(cfg *config.Config, logger *utils.Logger) cache.CacheService {
	if cfg.MemcacheAddr == "" {
		return cache.NewMemoryCache()
	}
	c := cache.NewMemcacheService(cfg.MemcacheAddr)
	if err := c.Ping(); err != nil {
		logger.Warn("[app] memcached at %s unreachable (%v), keeping markers in memory", cfg.MemcacheAddr, err)
		return cache.NewMemoryCache()
	}
	logger.Info("[app] Enrichment markers on memcached %s", cfg.MemcacheAddr)
	return c
}
