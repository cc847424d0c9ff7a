package willhaben

import (
	"context"
	"fmt"

	"car-scraper/render"
	"car-scraper/utils"
)

// Candidate is a detail-page link found on a search result page.
type Candidate struct {
	Anchor render.Element
	URL    string
	ID     string
}

// Discoverer finds listing candidates on a rendered search page.
type Discoverer struct {
	Origin string
	Logger *utils.Logger
}

// NewDiscoverer creates a Discoverer resolving links against origin.
func NewDiscoverer(origin string, logger *utils.Logger) *Discoverer {
	if origin == "" {
		origin = DefaultOrigin
	}
	return &Discoverer{Origin: origin, Logger: logger}
}

// Discover returns one candidate per listing id, in page order. A page
// without candidates is not an error.
func (d *Discoverer) Discover(ctx context.Context, page render.Page) ([]Candidate, error) {
	anchors, err := page.QueryAll(ctx, "a[href]")
	if err != nil {
		return nil, fmt.Errorf("query anchors: %w", err)
	}

	seen := utils.NewIDSet()
	candidates := make([]Candidate, 0)
	rejected := 0

	for i, a := range anchors {
		href, ok, err := a.Attribute(ctx, "href")
		if err != nil {
			d.Logger.Debug("[discover] anchor %d: href unreadable: %v", i, err)
			continue
		}
		if !ok || !IsListingHref(href) {
			continue
		}

		abs := ResolveURL(d.Origin, href)
		id, ok := ListingID(abs)
		if !ok {
			rejected++
			continue
		}
		if !seen.Add(id) {
			continue
		}
		candidates = append(candidates, Candidate{Anchor: a, URL: abs, ID: id})
	}

	d.Logger.Info("[discover] %d anchors → %d candidates (%d non-detail links rejected)",
		len(anchors), len(candidates), rejected)
	return candidates, nil
}
