package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"car-scraper/extract"
	"car-scraper/models"
	"car-scraper/storage"
	"car-scraper/utils"
)

const newestCount = 5

type InsightService struct {
	store  storage.Store
	logger *utils.Logger
}

func NewInsightService(store storage.Store, logger *utils.Logger) *InsightService {
	return &InsightService{store: store, logger: logger}
}

// Report loads active listings, store aggregates and the latest run.
func (s *InsightService) Report(ctx context.Context) (*models.InsightReport, error) {
	listings, err := s.store.AllListings(ctx, true)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	report := Generate(listings)
	report.Stats = *stats

	run, err := s.store.LatestRun(ctx)
	switch {
	case err == nil:
		report.LastRun = run
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("[insights] latest run unavailable: %v", err)
	}
	return report, nil
}

// Generate computes the listing-derived parts of a report. Stats and
// LastRun are left for the caller.
func Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		Newest:             []*models.Listing{},
		ListingsByBrand:    make(map[string]int),
		ListingsByLocation: make(map[string]int),
	}

	for _, l := range listings {
		if l.Brand != nil {
			report.ListingsByBrand[*l.Brand]++
		}
		if l.Location != nil {
			report.ListingsByLocation[*l.Location]++
		}
		if l.Price == nil {
			continue
		}
		if report.MostExpensive == nil || l.Price.Amount.GreaterThan(report.MostExpensive.Price.Amount) {
			report.MostExpensive = l
		}
	}

	newest := append([]*models.Listing(nil), listings...)
	sort.SliceStable(newest, func(i, j int) bool {
		return newest[i].FirstSeenAt.After(newest[j].FirstSeenAt)
	})
	if len(newest) > newestCount {
		newest = newest[:newestCount]
	}
	report.Newest = append(report.Newest, newest...)
	return report
}

// Print renders the report as tables.
func (s *InsightService) Print(w io.Writer, r *models.InsightReport) {
	overview := newTable(w, "Overview")
	overview.AppendRows([]table.Row{
		{"Active listings", r.Stats.Active},
		{"Inactive listings", r.Stats.Inactive},
		{"Distinct brands", r.Stats.DistinctBrands},
		{"Average price", formatPrice(r.Stats.AvgPrice)},
		{"Minimum price", formatPrice(r.Stats.MinPrice)},
		{"Maximum price", formatPrice(r.Stats.MaxPrice)},
	})
	if r.MostExpensive != nil {
		overview.AppendRow(table.Row{"Most expensive", extract.Truncate(r.MostExpensive.Title, 50)})
	}
	if r.LastRun != nil {
		overview.AppendRow(table.Row{"Last run", fmt.Sprintf("%s (%s, +%d ~%d -%d)",
			r.LastRun.StartedAt.Format(time.RFC3339), r.LastRun.Status,
			r.LastRun.Added, r.LastRun.Updated, r.LastRun.Deactivated)})
	}
	overview.Render()

	newest := newTable(w, "Newest listings")
	newest.AppendHeader(table.Row{"#", "Title", "Price", "Location", "First seen"})
	for i, l := range r.Newest {
		price := "-"
		if l.Price != nil {
			price = l.Price.Amount.StringFixed(2) + " " + l.Price.Currency
		}
		loc := "-"
		if l.Location != nil {
			loc = *l.Location
		}
		newest.AppendRow(table.Row{i + 1, extract.Truncate(l.Title, 40), price, loc, l.FirstSeenAt.Format("2006-01-02 15:04")})
	}
	newest.Render()

	printCounts(w, "Listings by brand", r.ListingsByBrand)
	printCounts(w, "Listings by location", r.ListingsByLocation)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	type keyCount struct {
		key   string
		count int
	}
	rows := make([]keyCount, 0, len(counts))
	for k, c := range counts {
		rows = append(rows, keyCount{k, c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})

	t := newTable(w, title)
	t.AppendHeader(table.Row{"Name", "Count"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.key, r.count})
	}
	t.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(title)
	return t
}

func formatPrice(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return "€ " + d.StringFixed(2)
}
