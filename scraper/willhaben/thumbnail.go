package willhaben

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"car-scraper/render"
)

// sourceAttributes are read in order; lazy loaders park the real URL in
// the data-* variants until the image scrolls into view.
var sourceAttributes = []string{"src", "data-src", "data-lazy-src", "data-original", "data-lazy"}

var srcsetAttributes = []string{"srcset", "data-srcset"}

var backgroundURLRegexp = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

const nestedImageSelector = `picture source, picture img, [class*="gallery"] img, [class*="Gallery"] img, [data-testid*="image"] img`

// nestedImagesScript collects image URLs below the element, including the
// browser's resolved currentSrc.
const nestedImagesScript = `function() {
	var out = [];
	var push = function(u) { if (u && out.indexOf(u) < 0) { out.push(u); } };
	var nodes = this.querySelectorAll('` + nestedImageSelector + `');
	for (var i = 0; i < nodes.length; i++) {
		var n = nodes[i];
		push(n.currentSrc);
		['src', 'data-src', 'data-lazy-src', 'data-original', 'data-lazy'].forEach(function(a) { push(n.getAttribute(a)); });
		var set = n.getAttribute('srcset') || n.getAttribute('data-srcset');
		if (set) { push(set.split(',')[0].trim().split(/\s+/)[0]); }
	}
	return out;
}`

// thumbnailStrategy returns the first acceptable image for a card.
type thumbnailStrategy struct {
	name string
	find func(ctx context.Context, t *thumbnailFinder, anchor, card render.Element) (string, bool)
}

var thumbnailStrategies = []thumbnailStrategy{
	{"anchor-img", func(ctx context.Context, t *thumbnailFinder, anchor, _ render.Element) (string, bool) {
		return t.firstImage(ctx, anchor)
	}},
	{"card-img", func(ctx context.Context, t *thumbnailFinder, _, card render.Element) (string, bool) {
		return t.firstImage(ctx, card)
	}},
	{"nested-gallery", func(ctx context.Context, t *thumbnailFinder, _, card render.Element) (string, bool) {
		return t.nestedImage(ctx, card)
	}},
	{"background-image", func(ctx context.Context, t *thumbnailFinder, anchor, card render.Element) (string, bool) {
		if u, ok := t.backgroundImage(ctx, anchor); ok {
			return u, true
		}
		return t.backgroundImage(ctx, card)
	}},
}

type thumbnailFinder struct {
	origin string
}

// Find runs the strategies in order and returns the first hit along with
// the name of the strategy that produced it.
func (t *thumbnailFinder) Find(ctx context.Context, anchor, card render.Element) (string, string, bool) {
	for _, s := range thumbnailStrategies {
		if u, ok := s.find(ctx, t, anchor, card); ok {
			return u, s.name, true
		}
	}
	return "", "", false
}

func (t *thumbnailFinder) firstImage(ctx context.Context, el render.Element) (string, bool) {
	imgs, err := el.QueryAll(ctx, "img")
	if err != nil {
		return "", false
	}
	for _, img := range imgs {
		if u, ok := t.imageSource(ctx, img); ok {
			return u, true
		}
	}
	return "", false
}

// imageSource walks the attribute chain of an <img> (or <source>), then its
// srcset, then the <source> siblings inside an enclosing <picture>.
func (t *thumbnailFinder) imageSource(ctx context.Context, img render.Element) (string, bool) {
	if u, ok := t.fromAttributes(ctx, img); ok {
		return u, true
	}

	parent, err := img.Parent(ctx)
	if err != nil {
		return "", false
	}
	if tag, err := parent.TagName(ctx); err != nil || tag != "picture" {
		return "", false
	}
	sources, err := parent.QueryAll(ctx, "source")
	if err != nil {
		return "", false
	}
	for _, s := range sources {
		if u, ok := t.fromAttributes(ctx, s); ok {
			return u, true
		}
	}
	return "", false
}

func (t *thumbnailFinder) fromAttributes(ctx context.Context, el render.Element) (string, bool) {
	for _, attr := range sourceAttributes {
		v, ok, err := el.Attribute(ctx, attr)
		if err != nil || !ok {
			continue
		}
		if u, ok := t.accept(v); ok {
			return u, true
		}
	}
	for _, attr := range srcsetAttributes {
		v, ok, err := el.Attribute(ctx, attr)
		if err != nil || !ok {
			continue
		}
		if u, ok := t.accept(FirstSrcsetURL(v)); ok {
			return u, true
		}
	}
	return "", false
}

func (t *thumbnailFinder) nestedImage(ctx context.Context, card render.Element) (string, bool) {
	var urls []string
	err := card.Evaluate(ctx, nestedImagesScript, &urls)
	if errors.Is(err, render.ErrUnsupported) {
		return t.nestedImageByQuery(ctx, card)
	}
	if err != nil {
		return "", false
	}
	for _, raw := range urls {
		if u, ok := t.accept(raw); ok {
			return u, true
		}
	}
	return "", false
}

func (t *thumbnailFinder) nestedImageByQuery(ctx context.Context, card render.Element) (string, bool) {
	nodes, err := card.QueryAll(ctx, nestedImageSelector)
	if err != nil {
		return "", false
	}
	for _, n := range nodes {
		if u, ok := t.fromAttributes(ctx, n); ok {
			return u, true
		}
	}
	return "", false
}

func (t *thumbnailFinder) backgroundImage(ctx context.Context, el render.Element) (string, bool) {
	style, err := el.ComputedStyle(ctx, "background-image")
	if err != nil || style == "" || style == "none" {
		return "", false
	}
	m := backgroundURLRegexp.FindStringSubmatch(style)
	if m == nil {
		return "", false
	}
	return t.accept(m[1])
}

func (t *thumbnailFinder) accept(raw string) (string, bool) {
	return AcceptImageURL(t.origin, raw)
}

// AcceptImageURL normalises raw and rejects data URIs, placeholders, icons
// and SVGs.
func AcceptImageURL(origin, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
		return "", false
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "placeholder") || strings.Contains(lower, "icon") {
		return "", false
	}
	path := lower
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if strings.HasSuffix(path, ".svg") {
		return "", false
	}
	u := ResolveURL(origin, raw)
	if u == "" {
		return "", false
	}
	return u, true
}

// FirstSrcsetURL returns the URL of the first srcset candidate.
func FirstSrcsetURL(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
