package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
	RendererChrome = "chrome"
	RendererStatic = "static"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	MaxRetries       int

	Store     string
	Renderer  string
	ChromeBin string

	SearchURL             string
	SiteOrigin            string
	MaxListings           int
	NavigationTimeout     time.Duration
	SettleDelay           time.Duration
	ResultWaitTimeout     time.Duration
	DeactivationThreshold int
	PostedAtOffset        time.Duration
	Timezone              string

	EnrichBatchSize  int
	EnrichRPS        float64
	EnrichRetryAfter time.Duration
	RetentionWindow  time.Duration

	ScrapeInterval time.Duration
	EnrichInterval time.Duration
	CleanupCron    string
	RunOnStart     bool

	HTTPAddr string

	RedisAddr     string
	RedisDB       int
	RedisQueueKey string
	MemcacheAddr  string

	LogLevel      string
	CSVOutputPath string
}

// Load reads the .env file and returns a populated Config struct.
// Environment variables win over .env, which wins over defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		DatabaseURL:      v.GetString("DATABASE_URL"),
		PostgresHost:     v.GetString("POSTGRES_HOST"),
		PostgresPort:     v.GetString("POSTGRES_PORT"),
		PostgresUser:     v.GetString("POSTGRES_USER"),
		PostgresPassword: v.GetString("POSTGRES_PASSWORD"),
		PostgresDB:       v.GetString("POSTGRES_DB"),
		PostgresSSLMode:  v.GetString("POSTGRES_SSLMODE"),
		MaxRetries:       v.GetInt("MAX_RETRIES"),

		Store:     strings.ToLower(v.GetString("STORE")),
		Renderer:  strings.ToLower(v.GetString("RENDERER")),
		ChromeBin: v.GetString("CHROME_BIN"),

		SearchURL:             v.GetString("SEARCH_URL"),
		SiteOrigin:            v.GetString("SITE_ORIGIN"),
		MaxListings:           v.GetInt("MAX_LISTINGS"),
		NavigationTimeout:     v.GetDuration("NAVIGATION_TIMEOUT"),
		SettleDelay:           v.GetDuration("SETTLE_DELAY"),
		ResultWaitTimeout:     v.GetDuration("RESULT_WAIT_TIMEOUT"),
		DeactivationThreshold: v.GetInt("DEACTIVATION_THRESHOLD"),
		PostedAtOffset:        v.GetDuration("POSTED_AT_OFFSET"),
		Timezone:              v.GetString("TIMEZONE"),

		EnrichBatchSize:  v.GetInt("ENRICH_BATCH_SIZE"),
		EnrichRPS:        v.GetFloat64("ENRICH_RPS"),
		EnrichRetryAfter: v.GetDuration("ENRICH_RETRY_AFTER"),
		RetentionWindow:  v.GetDuration("RETENTION_WINDOW"),

		ScrapeInterval: v.GetDuration("SCRAPE_INTERVAL"),
		EnrichInterval: v.GetDuration("ENRICH_INTERVAL"),
		CleanupCron:    v.GetString("CLEANUP_CRON"),
		RunOnStart:     v.GetBool("RUN_ON_START"),

		HTTPAddr: v.GetString("HTTP_ADDR"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisQueueKey: v.GetString("REDIS_QUEUE_KEY"),
		MemcacheAddr:  v.GetString("MEMCACHE_ADDR"),

		LogLevel:      v.GetString("LOG_LEVEL"),
		CSVOutputPath: v.GetString("CSV_OUTPUT_PATH"),
	}

	// PORT is what most hosting platforms inject.
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":5000"
		if port := v.GetString("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		}
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "scraper")
	v.SetDefault("POSTGRES_PASSWORD", "scraper123")
	v.SetDefault("POSTGRES_DB", "carscraper")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("MAX_RETRIES", 3)

	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("RENDERER", RendererChrome)

	v.SetDefault("SEARCH_URL", "https://www.willhaben.at/iad/gebrauchtwagen/auto/gebrauchtwagenboerse")
	v.SetDefault("SITE_ORIGIN", "https://www.willhaben.at")
	v.SetDefault("MAX_LISTINGS", 100)
	v.SetDefault("NAVIGATION_TIMEOUT", "30s")
	v.SetDefault("SETTLE_DELAY", "2s")
	v.SetDefault("RESULT_WAIT_TIMEOUT", "10s")
	v.SetDefault("DEACTIVATION_THRESHOLD", 10)
	v.SetDefault("POSTED_AT_OFFSET", "0s")
	v.SetDefault("TIMEZONE", "Europe/Vienna")

	v.SetDefault("ENRICH_BATCH_SIZE", 20)
	v.SetDefault("ENRICH_RPS", 0.5)
	v.SetDefault("ENRICH_RETRY_AFTER", "6h")
	v.SetDefault("RETENTION_WINDOW", "168h")

	v.SetDefault("SCRAPE_INTERVAL", "5m")
	v.SetDefault("ENRICH_INTERVAL", "30m")
	v.SetDefault("CLEANUP_CRON", "0 23 * * *")
	v.SetDefault("RUN_ON_START", true)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_QUEUE_KEY", "car-scraper:enrich:priority")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CSV_OUTPUT_PATH", "./output/listings.csv")
}

// DSN returns the PostgreSQL connection string. DATABASE_URL wins when set;
// its postgresql:// scheme is normalised to postgres://.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return NormalizeDatabaseURL(c.DatabaseURL)
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func NormalizeDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "postgresql://"); ok {
		return "postgres://" + rest
	}
	return raw
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects settings the jobs cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	switch c.Renderer {
	case RendererChrome, RendererStatic:
	default:
		errs = append(errs, fmt.Errorf("RENDERER must be %q or %q, got %q", RendererChrome, RendererStatic, c.Renderer))
	}
	if u, err := url.Parse(c.SearchURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SEARCH_URL %q is not an absolute URL", c.SearchURL))
	}

	positiveInts := []struct {
		key string
		val int
	}{
		{"MAX_LISTINGS", c.MaxListings},
		{"ENRICH_BATCH_SIZE", c.EnrichBatchSize},
	}
	for _, p := range positiveInts {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.key, p.val))
		}
	}
	if c.DeactivationThreshold < 0 {
		errs = append(errs, fmt.Errorf("DEACTIVATION_THRESHOLD must not be negative, got %d", c.DeactivationThreshold))
	}
	if c.EnrichRPS < 0 {
		errs = append(errs, fmt.Errorf("ENRICH_RPS must not be negative, got %v", c.EnrichRPS))
	}

	positiveDurations := []struct {
		key string
		val time.Duration
	}{
		{"NAVIGATION_TIMEOUT", c.NavigationTimeout},
		{"RESULT_WAIT_TIMEOUT", c.ResultWaitTimeout},
		{"ENRICH_RETRY_AFTER", c.EnrichRetryAfter},
		{"RETENTION_WINDOW", c.RetentionWindow},
		{"SCRAPE_INTERVAL", c.ScrapeInterval},
		{"ENRICH_INTERVAL", c.EnrichInterval},
	}
	for _, p := range positiveDurations {
		if p.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", p.key, p.val))
		}
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("SETTLE_DELAY must not be negative, got %v", c.SettleDelay))
	}
	return errors.Join(errs...)
}
