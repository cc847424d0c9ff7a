package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"car-scraper/models"
	"car-scraper/scheduler"
	"car-scraper/scraper/willhaben"
	"car-scraper/storage"
)

const (
	defaultRecentWindow = 24 * time.Hour
	defaultRunsLimit    = 20
	maxRunsLimit        = 200
)

type pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

type listingsResponse struct {
	Listings   []*models.Listing `json:"listings"`
	Filters    *filters          `json:"filters,omitempty"`
	Pagination pagination        `json:"pagination"`
}

type filters struct {
	Brand    *string          `json:"brand"`
	Model    *string          `json:"model"`
	MinPrice *decimal.Decimal `json:"min_price"`
	MaxPrice *decimal.Decimal `json:"max_price"`
	MinYear  *int             `json:"min_year"`
	MaxYear  *int             `json:"max_year"`
}

func (s *Server) health(c *gin.Context) {
	now := s.Now().UTC().Format(time.RFC3339)
	if err := s.store.Ping(c.Request.Context()); err != nil {
		s.logger.Warn("[api] health check failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     err.Error(),
			"timestamp": now,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "connected", "timestamp": now})
}

func (s *Server) listListings(c *gin.Context) {
	q := models.ListingQuery{ActiveOnly: true}
	if err := parsePaging(c, &q); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	s.respondPage(c, q, nil)
}

func (s *Server) searchListings(c *gin.Context) {
	q := models.ListingQuery{ActiveOnly: true, Brand: c.Query("brand"), Model: c.Query("model")}
	if err := parsePaging(c, &q); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	var err error
	if q.MinPrice, err = optionalDecimal(c, "min_price"); err == nil {
		if q.MaxPrice, err = optionalDecimal(c, "max_price"); err == nil {
			if q.MinYear, err = optionalInt(c, "min_year"); err == nil {
				q.MaxYear, err = optionalInt(c, "max_year")
			}
		}
	}
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	f := &filters{MinPrice: q.MinPrice, MaxPrice: q.MaxPrice, MinYear: q.MinYear, MaxYear: q.MaxYear}
	if q.Brand != "" {
		f.Brand = &q.Brand
	}
	if q.Model != "" {
		f.Model = &q.Model
	}
	s.respondPage(c, q, f)
}

func (s *Server) respondPage(c *gin.Context, q models.ListingQuery, f *filters) {
	listings, total, err := s.store.QueryListings(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("[api] query listings: %v", err)
		respondInternalError(c)
		return
	}
	page := models.NewListingPage(listings, q, total)
	c.JSON(http.StatusOK, listingsResponse{
		Listings: page.Listings,
		Filters:  f,
		Pagination: pagination{
			Page: page.Page, Limit: page.Limit, Total: page.Total,
			Pages: page.Pages, HasNext: page.HasNext, HasPrev: page.HasPrev,
		},
	})
}

func (s *Server) recentListings(c *gin.Context) {
	q := models.ListingQuery{ActiveOnly: true, Page: 1}
	var err error
	if q.Limit, err = intParam(c, "limit", models.DefaultPageLimit); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	window, err := optionalDuration(c, "window", defaultRecentWindow)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	q.Normalize()
	cutoff := s.Now().Add(-window)
	q.AddedSince = &cutoff

	listings, _, err := s.store.QueryListings(c.Request.Context(), q)
	if err != nil {
		s.logger.Error("[api] recent listings: %v", err)
		respondInternalError(c)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	c.JSON(http.StatusOK, gin.H{
		"listings":    listings,
		"count":       len(listings),
		"cutoff_time": cutoff.UTC().Format(time.RFC3339),
	})
}

func (s *Server) getListing(c *gin.Context) {
	l, err := s.store.GetListing(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondNotFound(c, "listing")
		return
	case err != nil:
		s.logger.Error("[api] get listing %s: %v", c.Param("id"), err)
		respondInternalError(c)
		return
	case !l.Active:
		respondNotFound(c, "listing")
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

func (s *Server) stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Error("[api] stats: %v", err)
		respondInternalError(c)
		return
	}
	run, err := s.store.LatestRun(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("[api] latest run: %v", err)
		respondInternalError(c)
		return
	}
	c.JSON(http.StatusOK, struct {
		*models.ListingStats
		LastRun *models.ScrapeRun `json:"last_run"`
	}{stats, run})
}

func (s *Server) runs(c *gin.Context) {
	limit, err := intParam(c, "limit", defaultRunsLimit)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if limit < 1 || limit > maxRunsLimit {
		limit = defaultRunsLimit
	}
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("[api] list runs: %v", err)
		respondInternalError(c)
		return
	}
	if runs == nil {
		runs = []*models.ScrapeRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) trigger(job string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.jobs == nil {
			respondError(c, http.StatusServiceUnavailable, "scheduler not running")
			return
		}
		started, err := s.jobs.Trigger(job)
		switch {
		case errors.Is(err, scheduler.ErrNotStarted):
			respondError(c, http.StatusServiceUnavailable, "scheduler not running")
		case errors.Is(err, scheduler.ErrUnknownJob):
			respondNotFound(c, "job "+job)
		case err != nil:
			s.logger.Error("[api] trigger %s: %v", job, err)
			respondInternalError(c)
		case !started:
			c.JSON(http.StatusConflict, gin.H{"job": job, "message": job + " is already running"})
		default:
			s.logger.Info("[api] %s triggered manually", job)
			c.JSON(http.StatusAccepted, gin.H{"job": job, "message": job + " triggered"})
		}
	}
}

func (s *Server) probe(c *gin.Context) {
	if s.prober == nil {
		respondError(c, http.StatusServiceUnavailable, "probe not configured")
		return
	}
	target := c.Query("url")
	if target != "" && !s.probeAllowed(target) {
		respondBadRequest(c, "url must be an http(s) URL on "+s.probeHost())
		return
	}
	report, err := s.prober.Probe(c.Request.Context(), target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) probeHost() string {
	origin := s.ProbeOrigin
	if origin == "" {
		origin = willhaben.DefaultOrigin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func (s *Server) probeAllowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.User != nil {
		return false
	}
	host := s.probeHost()
	return host != "" && strings.ToLower(u.Hostname()) == host
}
