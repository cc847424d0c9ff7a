package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"car-scraper/models"
)

var csvHeader = []string{
	"id", "title", "price", "currency", "brand", "model", "year", "mileage", "location",
	"image_refs", "detail_url", "posted_at", "first_seen_at", "last_seen_at", "active",
}

// CSVWriter exports stored listings as CSV. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	closer io.Closer
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at path and writes the
// header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	c, err := newCSVWriter(f, f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

// NewCSVStream writes to w (stdout, an HTTP response) instead of a file.
func NewCSVStream(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(w, nil)
}

func newCSVWriter(w io.Writer, closer io.Closer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	cw.Flush()
	return &CSVWriter{closer: closer, writer: cw}, nil
}

// Write appends one row per listing.
func (c *CSVWriter) Write(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		if err := c.writer.Write(csvRow(l)); err != nil {
			return fmt.Errorf("csv: write row %s: %w", l.ID, err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func csvRow(l *models.Listing) []string {
	var price, currency string
	if l.Price != nil {
		price = l.Price.Amount.StringFixed(2)
		currency = l.Price.Currency
	}
	var posted string
	if l.PostedAt != nil {
		posted = l.PostedAt.Format(time.RFC3339)
	}
	return []string{
		l.ID,
		l.Title,
		price,
		currency,
		deref(l.Brand),
		deref(l.Model),
		optIntString(l.Year),
		optIntString(l.Mileage),
		deref(l.Location),
		strings.Join(l.ImageRefs, " "),
		l.DetailURL,
		posted,
		l.FirstSeenAt.Format(time.RFC3339),
		l.LastSeenAt.Format(time.RFC3339),
		strconv.FormatBool(l.Active),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optIntString(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

// Close flushes and closes the underlying file, if any.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	if c.closer == nil {
		return c.writer.Error()
	}
	return c.closer.Close()
}
