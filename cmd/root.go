// Package cmd implements the car-scraper command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// debug forces debug logging and gin's debug mode.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "car-scraper",
		Short: "Tracks used-car listings on willhaben.at",
		Long: `car-scraper discovers used-car listings on willhaben.at, reconciles them
into a store, enriches thin listings from their detail pages and serves
the result over a small JSON API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		serveCommand(),
		scrapeCommand(),
		enrichCommand(),
		sweepCommand(),
		statsCommand(),
		exportCommand(),
		probeCommand(),
	)
}
