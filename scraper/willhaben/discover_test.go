package willhaben

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"car-scraper/render"
	"car-scraper/utils"
)

func loadFixture(t *testing.T, name string) render.Page {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	page, err := render.NewStaticPage(DefaultSearchURL, string(raw))
	require.NoError(t, err)
	return page
}

func TestDiscoverFiltersAndDedupes(t *testing.T) {
	page := loadFixture(t, "search.html")
	d := NewDiscoverer(DefaultOrigin, utils.NopLogger())

	candidates, err := d.Discover(context.Background(), page)
	require.NoError(t, err)

	var ids, urls []string
	for _, c := range candidates {
		ids = append(ids, c.ID)
		urls = append(urls, c.URL)
	}
	assert.Equal(t, []string{"111111111", "222222222", "333333333", "4444444"}, ids)
	for _, u := range urls {
		assert.True(t, strings.HasPrefix(u, "https://www.willhaben.at/iad/"), u)
	}
}

func TestDiscoverEmptyPage(t *testing.T) {
	page, err := render.NewStaticPage(DefaultSearchURL, `<html><body><p>Keine Treffer</p></body></html>`)
	require.NoError(t, err)

	candidates, err := NewDiscoverer("", utils.NopLogger()).Discover(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
