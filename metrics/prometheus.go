package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "car_scraper_job_runs_total",
			Help: "Total number of job executions by outcome.",
		},
		[]string{"job", "status"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "car_scraper_job_duration_seconds",
			Help:    "Histogram of job execution durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)
	listingChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "car_scraper_listing_changes_total",
			Help: "Listings touched by the pipeline, by kind of change.",
		},
		[]string{"change"},
	)
	activeListings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "car_scraper_active_listings",
			Help: "Active listings after the latest discovery run.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "car_scraper_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "car_scraper_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint", "status"},
	)
)

// Listing change kinds.
const (
	ChangeAdded       = "added"
	ChangeUpdated     = "updated"
	ChangeDeactivated = "deactivated"
	ChangeSkipped     = "skipped"
	ChangeEnriched    = "enriched"
	ChangeDeleted     = "deleted"
)

func init() {
	prometheus.MustRegister(jobRunsTotal, jobDuration, listingChangesTotal, activeListings)
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration)
}

// RecordJob records one finished job execution.
func RecordJob(job, status string, duration time.Duration) {
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordJobSkipped counts a fire dropped because the job was still running.
func RecordJobSkipped(job string) {
	jobRunsTotal.WithLabelValues(job, "overlap").Inc()
}

// AddListingChanges adds n to the counter for change. Zero is a no-op.
func AddListingChanges(change string, n int) {
	if n <= 0 {
		return
	}
	listingChangesTotal.WithLabelValues(change).Add(float64(n))
}

func SetActiveListings(n int) {
	activeListings.Set(float64(n))
}

// RecordRequest records metrics for one HTTP request.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
