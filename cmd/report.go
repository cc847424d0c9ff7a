package cmd

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"car-scraper/storage"
)

func statsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print listing statistics and the latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.insights.Report(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			a.insights.Print(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func exportCommand() *cobra.Command {
	var (
		out string
		all bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored listings to CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			listings, err := a.store.AllListings(cmd.Context(), !all)
			if err != nil {
				return err
			}

			if out == "" {
				out = a.cfg.CSVOutputPath
			}
			var w *storage.CSVWriter
			if out == "-" {
				w, err = storage.NewCSVStream(cmd.OutOrStdout())
			} else {
				w, err = storage.NewCSVWriter(out)
			}
			if err != nil {
				return err
			}
			if err := w.Write(listings); err != nil {
				_ = w.Close()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			if out != "-" {
				a.logger.Info("[export] Wrote %d listings to %s", len(listings), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, - for stdout (default CSV_OUTPUT_PATH)")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive listings")
	return cmd
}

func probeCommand() *cobra.Command {
	var screenshot string
	cmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Load a page and report what the scraper can see on it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			report, probeErr := a.prober.Probe(cmd.Context(), url)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s: %s\n", report.URL, report.Status)
			for _, step := range report.Steps {
				fmt.Fprintf(w, "  - %s\n", step)
			}
			if len(report.Selectors) > 0 {
				t := table.NewWriter()
				t.SetOutputMirror(w)
				t.SetStyle(table.StyleLight)
				t.AppendHeader(table.Row{"Selector", "Matches"})
				for _, s := range report.Selectors {
					t.AppendRow(table.Row{s.Selector, s.Count})
				}
				t.Render()
			}

			if screenshot != "" && report.ScreenshotBase64 != "" {
				png, err := base64.StdEncoding.DecodeString(report.ScreenshotBase64)
				if err != nil {
					return err
				}
				if err := os.WriteFile(screenshot, png, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(w, "screenshot written to %s\n", screenshot)
			}
			return probeErr
		},
	}
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "write the page screenshot to this PNG file")
	return cmd
}
