package willhaben

import (
	"context"
	"strings"
	"time"

	"car-scraper/extract"
	"car-scraper/models"
	"car-scraper/render"
	"car-scraper/utils"
)

var (
	gallerySelectors = []string{
		`[data-testid*="gallery"] img`,
		`[class*="Gallery"] img`,
		`[class*="gallery"] img`,
		`[class*="carousel"] img`,
	}
	postedMetaSelectors = []string{
		`[data-testid="ad-detail-ad-edit-date-top"]`,
		`[data-testid="ad-detail-ad-edit-date"]`,
		`[data-testid*="edit-date"]`,
		`[data-testid*="create-date"]`,
	}
	imageLikeSuffixes = []string{".jpg", ".jpeg", ".png", ".webp", ".avif"}
)

// DetailResult holds what a detail page adds to a known listing.
type DetailResult struct {
	ImageRefs []string
	PostedAt  *time.Time
}

// DetailExtractor reads the image gallery and posting time of a detail page.
type DetailExtractor struct {
	Origin string
	Times  *extract.TimeParser
	Logger *utils.Logger
}

// NewDetailExtractor creates an extractor resolving URLs against origin.
func NewDetailExtractor(origin string, times *extract.TimeParser, logger *utils.Logger) *DetailExtractor {
	if origin == "" {
		origin = DefaultOrigin
	}
	if times == nil {
		times = extract.NewTimeParser(0)
	}
	return &DetailExtractor{Origin: origin, Times: times, Logger: logger}
}

// imageStrategy contributes image URLs to a detail page's gallery.
type imageStrategy struct {
	name    string
	collect func(ctx context.Context, d *DetailExtractor, page render.Page, add func(string))
}

// Strategies feed one accumulator in order until the cap is reached.
var imageStrategies = []imageStrategy{
	{"gallery", func(ctx context.Context, d *DetailExtractor, page render.Page, add func(string)) {
		for _, sel := range gallerySelectors {
			d.collectImages(ctx, page, sel, add)
		}
	}},
	{"picture-source", func(ctx context.Context, d *DetailExtractor, page render.Page, add func(string)) {
		d.collectImages(ctx, page, "picture source", add)
		d.collectImages(ctx, page, "picture img", add)
	}},
	{"og-image", func(ctx context.Context, d *DetailExtractor, page render.Page, add func(string)) {
		metas, err := page.QueryAll(ctx, `meta[property="og:image"]`)
		if err != nil {
			return
		}
		for _, m := range metas {
			if v, ok, err := m.Attribute(ctx, "content"); err == nil && ok {
				add(v)
			}
		}
	}},
	{"main-img", func(ctx context.Context, d *DetailExtractor, page render.Page, add func(string)) {
		imgs, err := page.QueryAll(ctx, "main img")
		if err != nil {
			return
		}
		for _, img := range imgs {
			src, ok, err := img.Attribute(ctx, "src")
			if err != nil || !ok || !isImageLike(src) {
				continue
			}
			add(src)
		}
	}},
}

// Extract collects up to MaxImageRefs gallery images and the most precise
// posting time on the page.
func (d *DetailExtractor) Extract(ctx context.Context, page render.Page, now time.Time) DetailResult {
	var res DetailResult

	seen := utils.NewIDSet()
	add := func(raw string) {
		if seen.Size() >= models.MaxImageRefs {
			return
		}
		if u, ok := AcceptImageURL(d.Origin, raw); ok {
			seen.Add(u)
		}
	}
	for _, s := range imageStrategies {
		if seen.Size() >= models.MaxImageRefs {
			break
		}
		before := seen.Size()
		s.collect(ctx, d, page, add)
		if n := seen.Size() - before; n > 0 {
			d.Logger.Debug("[detail] %s contributed %d images", s.name, n)
		}
	}
	res.ImageRefs = seen.Slice()

	if t, ok := d.postedAt(ctx, page, now); ok {
		res.PostedAt = &t
	}
	return res
}

func (d *DetailExtractor) collectImages(ctx context.Context, page render.Page, selector string, add func(string)) {
	nodes, err := page.QueryAll(ctx, selector)
	if err != nil {
		return
	}
	finder := &thumbnailFinder{origin: d.Origin}
	for _, n := range nodes {
		if u, ok := finder.fromAttributes(ctx, n); ok {
			add(u)
		}
	}
}

// postedAt tries the edit/create date blocks before falling back to the
// whole body text.
func (d *DetailExtractor) postedAt(ctx context.Context, page render.Page, now time.Time) (time.Time, bool) {
	for _, sel := range postedMetaSelectors {
		el, err := page.Query(ctx, sel)
		if err != nil {
			continue
		}
		text, err := el.InnerText(ctx)
		if err != nil {
			continue
		}
		if t, ok := d.Times.Parse(text, now); ok {
			return t, true
		}
	}

	body, err := page.Query(ctx, "body")
	if err != nil {
		return time.Time{}, false
	}
	text, err := body.InnerText(ctx)
	if err != nil {
		return time.Time{}, false
	}
	return d.Times.Parse(text, now)
}

func isImageLike(src string) bool {
	lower := strings.ToLower(src)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, suffix := range imageLikeSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return strings.Contains(lower, "cache.willhaben.at")
}
