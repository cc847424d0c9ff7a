// Package willhaben knows how willhaben.at lays out its used-car search
// results and detail pages.
package willhaben

import (
	"net/url"
	"regexp"
	"strings"
)

const (
	// DefaultOrigin resolves relative links found on the site.
	DefaultOrigin = "https://www.willhaben.at"
	// DefaultSearchURL is the used-car search result page.
	DefaultSearchURL = DefaultOrigin + "/iad/gebrauchtwagen/auto/gebrauchtwagenboerse"
	// ResultSelector marks one search result entry.
	ResultSelector = `[data-testid="search-result-entry"]`

	listingPathMarker = "/iad/"
)

var (
	// "…/bmw-320d-touring-123456789/" or "…/123456789"
	trailingIDRegexp = regexp.MustCompile(`(?:^|[-/])(\d{6,})/?$`)
	segmentIDRegexp  = regexp.MustCompile(`/(\d{6,})(?:/|$)`)
	digitsRegexp     = regexp.MustCompile(`^\d+$`)

	// search, category and brand landing pages share the /iad/ prefix
	nonDetailPaths = []string{
		"gebrauchtwagenboerse",
		"/suche",
		"/kaufen-und-verkaufen/auto",
		"/marken/",
		"/haendler/",
	}
	idQueryParams = []string{"adId", "adid", "id"}
)

// ResolveURL turns an href found on the page into an absolute URL.
//
//	"//host/x" → "https://host/x"
//	"/x"       → origin + "/x"
func ResolveURL(origin, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case href == "":
		return ""
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(origin, "/") + href
	}
	base, err := url.Parse(strings.TrimRight(origin, "/") + "/")
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// IsListingHref reports whether a raw href points below the listing path.
func IsListingHref(href string) bool {
	return strings.Contains(href, listingPathMarker)
}

// ListingID derives the marketplace id from a detail URL. ok is false for
// URLs that are not detail pages or carry no recognisable id.
func ListingID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if isNonDetail(u) {
		return "", false
	}

	path := u.EscapedPath()
	if m := trailingIDRegexp.FindStringSubmatch(path); m != nil {
		return m[1], true
	}
	if m := segmentIDRegexp.FindStringSubmatch(path); m != nil {
		return m[1], true
	}
	q := u.Query()
	for _, key := range idQueryParams {
		if v := strings.TrimSpace(q.Get(key)); v != "" && digitsRegexp.MatchString(v) {
			return v, true
		}
	}
	return "", false
}

func isNonDetail(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, p := range nonDetailPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return u.Query().Has("page")
}
