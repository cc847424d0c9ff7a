package render

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-scraper/utils"
)

const cardMarkup = `<html><body>
<div data-testid="search-result-entry" class="Card">
  <a href="/iad/gebrauchtwagen/d/auto/bmw-320d-123456789/">BMW 320d Touring</a>
  <div><span>€ 15.900</span></div>
  <div style="color: red; background-image: url('https://cache.willhaben.at/a.jpg')">2019</div>
  <p>4020   Linz</p>
  <script>var ignored = 1;</script>
</div>
</body></html>`

func TestStaticPageQueries(t *testing.T) {
	ctx := context.Background()
	page, err := NewStaticPage("https://www.willhaben.at/iad", cardMarkup)
	require.NoError(t, err)
	defer page.Close()

	anchors, err := page.QueryAll(ctx, "a[href]")
	require.NoError(t, err)
	require.Len(t, anchors, 1)

	href, ok, err := anchors[0].Attribute(ctx, "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/iad/gebrauchtwagen/d/auto/bmw-320d-123456789/", href)

	_, ok, err = anchors[0].Attribute(ctx, "data-missing")
	require.NoError(t, err)
	assert.False(t, ok)

	parent, err := anchors[0].Parent(ctx)
	require.NoError(t, err)
	tag, err := parent.TagName(ctx)
	require.NoError(t, err)
	assert.Equal(t, "div", tag)

	text, err := parent.InnerText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BMW 320d Touring\n€ 15.900\n2019\n4020 Linz", text)

	_, err = page.Query(ctx, "article")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStaticElementComputedStyle(t *testing.T) {
	ctx := context.Background()
	page, err := NewStaticPage("https://www.willhaben.at/iad", cardMarkup)
	require.NoError(t, err)

	el, err := page.Query(ctx, "div[style]")
	require.NoError(t, err)

	bg, err := el.ComputedStyle(ctx, "background-image")
	require.NoError(t, err)
	assert.Equal(t, "url('https://cache.willhaben.at/a.jpg')", bg)

	color, err := el.ComputedStyle(ctx, "COLOR")
	require.NoError(t, err)
	assert.Equal(t, "red", color)
}

func TestStaticParentStopsAtRoot(t *testing.T) {
	ctx := context.Background()
	page, err := NewStaticPage("https://example.test/", "<html><body></body></html>")
	require.NoError(t, err)

	root, err := page.Query(ctx, "html")
	require.NoError(t, err)
	_, err = root.Parent(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStaticUnsupportedCapabilities(t *testing.T) {
	ctx := context.Background()
	page, err := NewStaticPage("https://example.test/", "<html><body><p>x</p></body></html>")
	require.NoError(t, err)

	assert.ErrorIs(t, page.Evaluate(ctx, "1+1", nil), ErrUnsupported)
	_, err = page.Screenshot(ctx)
	assert.ErrorIs(t, err, ErrUnsupported)

	el, err := page.Query(ctx, "p")
	require.NoError(t, err)
	assert.ErrorIs(t, el.Evaluate(ctx, "function() { return 1; }", nil), ErrUnsupported)
}

func TestStaticLauncherDecodesLatin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		// "Pölten" in Latin-1
		_, _ = w.Write([]byte("<html><body><p>3100 St. P\xf6lten</p></body></html>"))
	}))
	defer srv.Close()

	ctx := context.Background()
	page, err := NewStaticLauncher(srv.Client()).Open(ctx)
	require.NoError(t, err)
	defer page.Close()

	require.NoError(t, page.Navigate(ctx, srv.URL))
	el, err := page.Query(ctx, "p")
	require.NoError(t, err)
	text, err := el.InnerText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3100 St. Pölten", text)
	assert.Equal(t, srv.URL, page.URL())
}

func TestStaticLauncherReportsBlockedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	page, err := NewStaticLauncher(srv.Client()).Open(context.Background())
	require.NoError(t, err)

	err = page.Navigate(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestLoadToleratesMissingResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Keine Treffer</p></body></html>`))
	}))
	defer srv.Close()

	ctx := context.Background()
	page, err := NewStaticLauncher(srv.Client()).Open(ctx)
	require.NoError(t, err)

	res, err := Load(ctx, page, srv.URL, LoadOptions{
		NavigationTimeout: 5 * time.Second,
		WaitSelector:      `[data-testid="search-result-entry"]`,
		WaitTimeout:       time.Second,
		SettleDelay:       time.Millisecond,
		ScrollSteps:       3,
	}, utils.NopLogger())
	require.NoError(t, err)
	assert.False(t, res.ResultsVisible)
}

func TestLoadFailsOnNavigationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx := context.Background()
	page, err := NewStaticLauncher(srv.Client()).Open(ctx)
	require.NoError(t, err)

	_, err = Load(ctx, page, srv.URL, LoadOptions{}, utils.NopLogger())
	assert.Error(t, err)
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), 0))
}
