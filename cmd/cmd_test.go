package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<!DOCTYPE html><html><head><title>Gebrauchtwagen</title></head><body><main>
<article data-testid="search-result-entry">
  <a href="/iad/gebrauchtwagen/d/auto/inserat-900000001/"><img src="https://cache.willhaben.at/mmo/900000001.jpg" alt="">Mazda CX-5 Revolution</a>
  <p>€ 21.490</p><p>5020 Salzburg</p>
</article>
<article data-testid="search-result-entry">
  <a href="/iad/gebrauchtwagen/d/auto/inserat-900000002/"><img src="https://cache.willhaben.at/mmo/900000002.jpg" alt="">Toyota Yaris Hybrid</a>
  <p>€ 13.900</p><p>8010 Graz</p>
</article>
</main></body></html>`

func staticSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(resultsPage))
	}))
	t.Cleanup(srv.Close)

	t.Setenv("STORE", "memory")
	t.Setenv("RENDERER", "static")
	t.Setenv("SEARCH_URL", srv.URL+"/iad/gebrauchtwagen/auto/gebrauchtwagenboerse")
	t.Setenv("SETTLE_DELAY", "0s")
	t.Setenv("RESULT_WAIT_TIMEOUT", "1s")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MEMCACHE_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "scrape", "enrich", "sweep", "stats", "export", "probe"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
	}
}

func TestScrapeCommand(t *testing.T) {
	staticSite(t)
	out, err := execute(t, "scrape")
	require.NoError(t, err, out)
	assert.Contains(t, out, "success: found 2, added 2, updated 0, deactivated 0, skipped 0")
}

func TestProbeCommand(t *testing.T) {
	srv := staticSite(t)
	out, err := execute(t, "probe", srv.URL+"/iad/gebrauchtwagen/auto/gebrauchtwagenboerse")
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Page title: Gebrauchtwagen")
	assert.Contains(t, out, `[data-testid="search-result-entry"]`)
}

func TestInvalidConfigurationFails(t *testing.T) {
	staticSite(t)
	t.Setenv("RENDERER", "lynx")
	_, err := execute(t, "sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RENDERER")
}
