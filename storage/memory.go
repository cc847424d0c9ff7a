package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"car-scraper/models"
)

// MemoryStore keeps everything in process memory. It backs the tests and
// the STORE=memory mode.
type MemoryStore struct {
	mu       sync.RWMutex
	listings map[string]*models.Listing
	runs     []*models.ScrapeRun
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listings: make(map[string]*models.Listing)}
}

func (m *MemoryStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (m *MemoryStore) InsertListing(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listings[l.ID]; exists {
		return fmt.Errorf("insert listing %s: already exists", l.ID)
	}
	c := l.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.FirstSeenAt
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.LastSeenAt
	}
	m.listings[l.ID] = c
	return nil
}

func (m *MemoryStore) UpdateListing(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.listings[l.ID]
	if !ok {
		return ErrNotFound
	}
	c := l.Clone()
	c.FirstSeenAt = old.FirstSeenAt
	c.CreatedAt = old.CreatedAt
	if len(c.ImageRefs) == 0 || len(c.ImageRefs) < len(old.ImageRefs) {
		c.ImageRefs = append([]string(nil), old.ImageRefs...)
	}
	if old.PostedAt != nil {
		t := *old.PostedAt
		c.PostedAt = &t
	}
	m.listings[l.ID] = c
	return nil
}

func (m *MemoryStore) DeactivateMissing(ctx context.Context, seen []string, now time.Time) (int, error) {
	keep := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		keep[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, l := range m.listings {
		if _, ok := keep[id]; ok || !l.Active {
			continue
		}
		l.Active = false
		l.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemoryStore) QueryListings(ctx context.Context, q models.ListingQuery) ([]*models.Listing, int, error) {
	q.Normalize()

	m.mu.RLock()
	var matched []*models.Listing
	for _, l := range m.listings {
		if matches(l, q) {
			matched = append(matched, l.Clone())
		}
	}
	m.mu.RUnlock()

	sortListings(matched)
	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []*models.Listing{}, total, nil
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *MemoryStore) AllListings(ctx context.Context, activeOnly bool) ([]*models.Listing, error) {
	m.mu.RLock()
	out := make([]*models.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		if activeOnly && !l.Active {
			continue
		}
		out = append(out, l.Clone())
	}
	m.mu.RUnlock()
	sortListings(out)
	return out, nil
}

func (m *MemoryStore) EnrichmentCandidates(ctx context.Context, maxImages, offset, limit int) ([]*models.Listing, error) {
	m.mu.RLock()
	var out []*models.Listing
	for _, l := range m.listings {
		if l.Active && len(l.ImageRefs) <= maxImages {
			out = append(out, l.Clone())
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.After(out[j].FirstSeenAt)
		}
		return out[i].ID < out[j].ID
	})
	if offset > 0 {
		if offset >= len(out) {
			return []*models.Listing{}, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateEnrichment(ctx context.Context, id string, imageRefs []string, postedAt *time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.ImageRefs = append([]string(nil), imageRefs...)
	if postedAt != nil {
		t := *postedAt
		l.PostedAt = &t
	} else {
		l.PostedAt = nil
	}
	l.UpdatedAt = now
	return nil
}

func (m *MemoryStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, l := range m.listings {
		if !l.Active && l.LastSeenAt.Before(cutoff) {
			delete(m.listings, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountListings(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listings), nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*models.ListingStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.ListingStats{}
	brands := make(map[string]struct{})
	var sum decimal.Decimal
	var min, max *decimal.Decimal
	priced := 0

	for _, l := range m.listings {
		if !l.Active {
			stats.Inactive++
			continue
		}
		stats.Active++
		if l.Brand != nil {
			brands[*l.Brand] = struct{}{}
		}
		if l.Price == nil {
			continue
		}
		amount := l.Price.Amount
		sum = sum.Add(amount)
		priced++
		if min == nil || amount.LessThan(*min) {
			min = &amount
		}
		if max == nil || amount.GreaterThan(*max) {
			max = &amount
		}
	}
	stats.DistinctBrands = len(brands)
	if priced > 0 {
		avg := sum.Div(decimal.NewFromInt(int64(priced))).Round(2)
		stats.AvgPrice, stats.MinPrice, stats.MaxPrice = &avg, min, max
	}
	return stats, nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, run *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *run
	m.runs = append(m.runs, &c)
	return nil
}

func (m *MemoryStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			c := *run
			m.runs[i] = &c
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) LatestRun(ctx context.Context) (*models.ScrapeRun, error) {
	runs, _ := m.ListRuns(ctx, 1)
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[0], nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, limit int) ([]*models.ScrapeRun, error) {
	m.mu.RLock()
	out := make([]*models.ScrapeRun, 0, len(m.runs))
	for _, r := range m.runs {
		c := *r
		out = append(out, &c)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func matches(l *models.Listing, q models.ListingQuery) bool {
	if q.ActiveOnly && !l.Active {
		return false
	}
	if q.Brand != "" && (l.Brand == nil || !containsFold(*l.Brand, q.Brand)) {
		return false
	}
	if q.Model != "" && (l.Model == nil || !containsFold(*l.Model, q.Model)) {
		return false
	}
	if q.MinPrice != nil && (l.Price == nil || l.Price.Amount.LessThan(*q.MinPrice)) {
		return false
	}
	if q.MaxPrice != nil && (l.Price == nil || l.Price.Amount.GreaterThan(*q.MaxPrice)) {
		return false
	}
	if q.MinYear != nil && (l.Year == nil || *l.Year < *q.MinYear) {
		return false
	}
	if q.MaxYear != nil && (l.Year == nil || *l.Year > *q.MaxYear) {
		return false
	}
	if q.SeenSince != nil && l.LastSeenAt.Before(*q.SeenSince) {
		return false
	}
	if q.AddedSince != nil && l.FirstSeenAt.Before(*q.AddedSince) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// sortListings orders by posting time (newest first, unknown last), then
// by last sighting.
func sortListings(ls []*models.Listing) {
	sort.SliceStable(ls, func(i, j int) bool {
		a, b := ls[i], ls[j]
		switch {
		case a.PostedAt != nil && b.PostedAt == nil:
			return true
		case a.PostedAt == nil && b.PostedAt != nil:
			return false
		case a.PostedAt != nil && b.PostedAt != nil && !a.PostedAt.Equal(*b.PostedAt):
			return a.PostedAt.After(*b.PostedAt)
		}
		if !a.LastSeenAt.Equal(b.LastSeenAt) {
			return a.LastSeenAt.After(b.LastSeenAt)
		}
		return a.ID < b.ID
	})
}
