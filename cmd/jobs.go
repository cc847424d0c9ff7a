package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"car-scraper/models"
	"car-scraper/services"
)

func scrapeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Run one discovery pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.discovery.Run(cmd.Context())
			if run != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: found %d, added %d, updated %d, deactivated %d, skipped %d\n",
					run.ID, run.Status, run.Found, run.Added, run.Updated, run.Deactivated, run.Skipped)
			}
			if err == nil && run != nil && run.Status != models.RunStatusSuccess {
				err = fmt.Errorf("discovery run ended %s", run.Status)
			}
			return err
		},
	}
}

func enrichCommand() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run one enrichment batch and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			e := a.enricher
			if batch > 0 {
				cfg := a.cfg
				e = services.NewEnricher(services.EnrichOptions{
					Origin:            cfg.SiteOrigin,
					BatchSize:         batch,
					RetryAfter:        cfg.EnrichRetryAfter,
					RequestsPerSecond: cfg.EnrichRPS,
					NavigationTimeout: cfg.NavigationTimeout,
					SettleDelay:       cfg.SettleDelay,
					PostedAtOffset:    cfg.PostedAtOffset,
				}, a.launcher, a.store, a.queue, a.cache, a.logger)
			}
			res, err := e.Run(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "candidates %d, enriched %d, unchanged %d, failed %d\n",
				res.Candidates, res.Enriched, res.Unchanged, res.Failed)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "listings to visit (default ENRICH_BATCH_SIZE)")
	return cmd
}

func sweepCommand() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete inactive listings older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.sweeper
			if retention > 0 {
				s = services.NewSweeper(a.store, retention, a.logger)
			}
			deleted, err := s.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d inactive listing(s)\n", deleted)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "override RETENTION_WINDOW, e.g. 72h")
	return cmd
}
