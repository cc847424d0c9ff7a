package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, RendererChrome, cfg.Renderer)
	assert.Equal(t, 100, cfg.MaxListings)
	assert.Equal(t, 10, cfg.DeactivationThreshold)
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ScrapeInterval)
	assert.Equal(t, 30*time.Minute, cfg.EnrichInterval)
	assert.Equal(t, 168*time.Hour, cfg.RetentionWindow)
	assert.Equal(t, 6*time.Hour, cfg.EnrichRetryAfter)
	assert.Equal(t, "0 23 * * *", cfg.CleanupCron)
	assert.Zero(t, cfg.PostedAtOffset)
	assert.True(t, cfg.RunOnStart)
	assert.Equal(t, ":5000", cfg.HTTPAddr)
	assert.Equal(t, "Europe/Vienna", cfg.Location().String())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("RENDERER", "static")
	t.Setenv("MAX_LISTINGS", "25")
	t.Setenv("SCRAPE_INTERVAL", "90s")
	t.Setenv("POSTED_AT_OFFSET", "-2h")
	t.Setenv("ENRICH_RPS", "2")
	t.Setenv("RUN_ON_START", "false")
	t.Setenv("PORT", "8080")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, RendererStatic, cfg.Renderer)
	assert.Equal(t, 25, cfg.MaxListings)
	assert.Equal(t, 90*time.Second, cfg.ScrapeInterval)
	assert.Equal(t, -2*time.Hour, cfg.PostedAtOffset)
	assert.Equal(t, 2.0, cfg.EnrichRPS)
	assert.False(t, cfg.RunOnStart)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestHTTPAddrBeatsPort(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	assert.Equal(t, "127.0.0.1:9000", Load().HTTPAddr)
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "database url with postgresql scheme",
			cfg:  Config{DatabaseURL: " postgresql://u:p@db:5432/cars?sslmode=require "},
			want: "postgres://u:p@db:5432/cars?sslmode=require",
		},
		{
			name: "database url already canonical",
			cfg:  Config{DatabaseURL: "postgres://u@db/cars"},
			want: "postgres://u@db/cars",
		},
		{
			name: "discrete settings",
			cfg: Config{PostgresHost: "db", PostgresPort: "5433", PostgresUser: "u", PostgresPassword: "p",
				PostgresDB: "cars", PostgresSSLMode: "disable"},
			want: "host=db port=5433 user=u password=p dbname=cars sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := Load()
	cfg.Store = "sqlite"
	cfg.Renderer = "firefox"
	cfg.MaxListings = 0
	cfg.ScrapeInterval = 0
	cfg.DeactivationThreshold = -1
	cfg.SearchURL = "/relative"

	err := cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"STORE", "RENDERER", "MAX_LISTINGS", "SCRAPE_INTERVAL", "DEACTIVATION_THRESHOLD", "SEARCH_URL"} {
		assert.True(t, strings.Contains(err.Error(), key), "missing %s in %v", key, err)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Timezone: "Mars/Olympus"}
	assert.Equal(t, time.UTC, cfg.Location())
}
