package willhaben

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"car-scraper/extract"
	"car-scraper/models"
	"car-scraper/render"
	"car-scraper/utils"
)

const (
	// CardMaxDepth bounds the walk up from an anchor looking for its card.
	CardMaxDepth = 8
	// CardFallbackHops picks the ancestor used when no card marker is found.
	CardFallbackHops = 3
	// DefaultMaxListings caps candidates assembled per run.
	DefaultMaxListings = 100

	minAnchorTitleRunes = 3
)

// Assembler turns discovered candidates into normalized listings.
type Assembler struct {
	Origin      string
	MaxListings int
	Times       *extract.TimeParser
	Brands      *extract.Catalog
	Logger      *utils.Logger
	Now         func() time.Time

	thumbs *thumbnailFinder
}

// NewAssembler wires an Assembler with the default brand catalog.
func NewAssembler(origin string, maxListings int, times *extract.TimeParser, logger *utils.Logger) *Assembler {
	if origin == "" {
		origin = DefaultOrigin
	}
	if maxListings <= 0 {
		maxListings = DefaultMaxListings
	}
	if times == nil {
		times = extract.NewTimeParser(0)
	}
	return &Assembler{
		Origin:      origin,
		MaxListings: maxListings,
		Times:       times,
		Brands:      extract.NewCatalog(extract.DefaultBrands),
		Logger:      logger,
		Now:         time.Now,
		thumbs:      &thumbnailFinder{origin: origin},
	}
}

// AssembleResult is the outcome of one assembly batch.
type AssembleResult struct {
	Listings []*models.Listing
	// Skipped counts candidates whose assembly failed.
	Skipped int
}

// Assemble builds a listing for each candidate, up to MaxListings. A failing
// candidate is logged and skipped; it never aborts the batch.
func (a *Assembler) Assemble(ctx context.Context, candidates []Candidate) AssembleResult {
	if len(candidates) > a.MaxListings {
		a.Logger.Info("[assemble] capping %d candidates at %d", len(candidates), a.MaxListings)
		candidates = candidates[:a.MaxListings]
	}

	res := AssembleResult{Listings: make([]*models.Listing, 0, len(candidates))}
	for idx, c := range candidates {
		if ctx.Err() != nil {
			a.Logger.Warn("[assemble] stopped after %d candidates: %v", idx, ctx.Err())
			break
		}
		listing, err := a.assembleSafe(ctx, c)
		if err != nil {
			res.Skipped++
			a.Logger.Error("[assemble] candidate %s skipped: %v", c.ID, err)
			continue
		}
		res.Listings = append(res.Listings, listing)
		a.Logger.Debug("[assemble] listing %d: %s (%s)", idx+1, listing.Title, listing.ID)
	}
	return res
}

// assembleSafe converts a panic inside one candidate into an error.
func (a *Assembler) assembleSafe(ctx context.Context, c Candidate) (l *models.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			l, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return a.assembleOne(ctx, c)
}

func (a *Assembler) assembleOne(ctx context.Context, c Candidate) (*models.Listing, error) {
	now := a.now()
	card := a.resolveCard(ctx, c.Anchor)

	cardText, err := card.InnerText(ctx)
	if err != nil {
		return nil, fmt.Errorf("read card text: %w", err)
	}
	cardText = extract.NormalizeLines(cardText)

	anchorText, err := c.Anchor.InnerText(ctx)
	if err != nil {
		return nil, fmt.Errorf("read anchor text: %w", err)
	}

	title := a.title(c.ID, extract.NormalizeText(anchorText), cardText)

	l := &models.Listing{
		ID:          c.ID,
		Title:       title,
		DetailURL:   c.URL,
		Description: extract.Truncate(extract.NormalizeText(cardText), models.MaxDescriptionLength),
		ImageRefs:   []string{},
	}

	if thumb, strategy, ok := a.thumbnails().Find(ctx, c.Anchor, card); ok {
		l.ImageRefs = append(l.ImageRefs, thumb)
		a.Logger.Debug("[assemble] %s thumbnail via %s", c.ID, strategy)
	}

	if p, ok := extract.Price(cardText); ok {
		l.Price = &p
	}
	if y, ok := extract.Year(cardText, now); ok {
		l.Year = models.IntPtr(y)
	}
	if km, ok := extract.Mileage(cardText); ok {
		l.Mileage = models.IntPtr(km)
	}
	if loc, ok := extract.Location(cardText); ok {
		l.Location = models.StringPtr(loc)
	}
	if posted, ok := a.Times.Parse(cardText, now); ok {
		l.PostedAt = &posted
	}
	if brand, model, ok := a.Brands.BrandModel(title); ok {
		l.Brand = models.StringPtr(brand)
		l.Model = models.StringPtr(model)
	}
	return l, nil
}

// title prefers the anchor text, then the card's first line.
func (a *Assembler) title(id, anchorText, cardText string) string {
	title := anchorText
	if utf8.RuneCountInString(title) <= minAnchorTitleRunes {
		title = extract.FirstLine(cardText)
	}
	if strings.TrimSpace(title) == "" {
		title = "Listing " + id
	}
	return extract.Truncate(title, models.MaxTitleLength)
}

// resolveCard walks up from the anchor to the nearest card-like ancestor.
func (a *Assembler) resolveCard(ctx context.Context, anchor render.Element) render.Element {
	var ancestors []render.Element
	el := anchor
	for i := 0; i < CardMaxDepth; i++ {
		parent, err := el.Parent(ctx)
		if err != nil {
			break
		}
		if isCard(ctx, parent) {
			return parent
		}
		ancestors = append(ancestors, parent)
		el = parent
	}
	if len(ancestors) >= CardFallbackHops {
		return ancestors[CardFallbackHops-1]
	}
	return anchor
}

func isCard(ctx context.Context, el render.Element) bool {
	if tag, err := el.TagName(ctx); err == nil && tag == "article" {
		return true
	}
	if testID, ok, err := el.Attribute(ctx, "data-testid"); err == nil && ok && testID == "search-result-entry" {
		return true
	}
	class, ok, err := el.Attribute(ctx, "class")
	if err != nil || !ok {
		return false
	}
	return strings.Contains(class, "Card") || strings.Contains(class, "Item")
}

func (a *Assembler) thumbnails() *thumbnailFinder {
	if a.thumbs == nil {
		a.thumbs = &thumbnailFinder{origin: a.Origin}
	}
	return a.thumbs
}

func (a *Assembler) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
