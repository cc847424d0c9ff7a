// Package api exposes the stored listings and the job triggers over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"car-scraper/metrics"
	"car-scraper/services"
	"car-scraper/storage"
	"car-scraper/utils"
)

// JobTrigger starts a named job in the background. started is false when
// the job is already running.
type JobTrigger interface {
	Trigger(id string) (started bool, err error)
}

// Prober runs the rendering diagnostic.
type Prober interface {
	Probe(ctx context.Context, url string) (*services.ProbeReport, error)
}

// Server is the HTTP query surface.
type Server struct {
	router *gin.Engine
	http   *http.Server
	store  storage.Store
	jobs   JobTrigger
	prober Prober
	logger *utils.Logger

	// Now is the clock behind the recent-listings window.
	Now func() time.Time
	// ProbeOrigin limits /api/probe to http(s) URLs on this origin's host.
	// Empty means the willhaben origin.
	ProbeOrigin string
}

// NewServer builds the router. jobs and prober may be nil, in which case
// their endpoints answer 503.
func NewServer(addr string, store storage.Store, jobs JobTrigger, prober Prober, logger *utils.Logger) *Server {
	s := &Server{
		router: gin.New(),
		store:  store,
		jobs:   jobs,
		prober: prober,
		logger: logger.With("component", "api"),
		Now:    time.Now,
	}
	s.router.Use(gin.Recovery(), s.observe())
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	api.GET("/listings", s.listListings)
	api.GET("/listings/search", s.searchListings)
	api.GET("/listings/recent", s.recentListings)
	api.GET("/listings/:id", s.getListing)
	api.GET("/stats", s.stats)
	api.GET("/runs", s.runs)
	api.POST("/scrape/trigger", s.trigger(services.JobDiscovery))
	api.POST("/enrich/trigger", s.trigger(services.JobEnrichment))
	api.GET("/probe", s.probe)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("[api] Listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// observe logs every request and feeds the request metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordRequest(c.Request.Method, endpoint, status, took)
		if endpoint == "/health" || endpoint == "/metrics" {
			return
		}
		s.logger.Debug("[api] %s %s → %d in %v", c.Request.Method, c.Request.URL.Path, status, took.Round(time.Millisecond))
	}
}
