package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"car-scraper/api"
	"car-scraper/scheduler"
	"car-scraper/services"
)

const shutdownTimeout = 15 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	logger.Info("=== car-scraper starting ===")
	logger.Info("Config: store %s | renderer %s | scrape every %v | enrich every %v | cleanup %q",
		cfg.Store, cfg.Renderer, cfg.ScrapeInterval, cfg.EnrichInterval, cfg.CleanupCron)

	sched := scheduler.New(cfg.Location(), logger)
	jobs := []scheduler.Job{
		{ID: services.JobDiscovery, Trigger: scheduler.Every(cfg.ScrapeInterval), Handler: func(ctx context.Context) error {
			_, err := a.discovery.Run(ctx)
			return err
		}},
		{ID: services.JobEnrichment, Trigger: scheduler.Every(cfg.EnrichInterval), Handler: func(ctx context.Context) error {
			_, err := a.enricher.Run(ctx)
			return err
		}},
		{ID: services.JobRetention, Trigger: scheduler.Cron(cfg.CleanupCron), Handler: func(ctx context.Context) error {
			_, err := a.sweeper.Run(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.RunOnStart {
		n, err := a.store.CountListings(ctx)
		switch {
		case err != nil:
			logger.Warn("[serve] Could not count listings, skipping the initial run: %v", err)
		case n == 0:
			logger.Info("[serve] Store is empty, running discovery now")
			if _, err := sched.Trigger(services.JobDiscovery); err != nil {
				logger.Warn("[serve] Initial discovery not started: %v", err)
			}
		}
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(cfg.HTTPAddr, a.store, sched, a.prober, logger)
	srv.ProbeOrigin = cfg.SiteOrigin
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("[serve] Shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("[serve] HTTP shutdown: %v", err)
	}
	return nil
}
