// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesCrawledTotal    *prometheus.CounterVec
	pagesFailedTotal     *prometheus.CounterVec
	duplicatesTotal      *prometheus.CounterVec
	pagesInFlight        prometheus.Gauge
	frontierDepth        prometheus.Gauge
	rateLimitDelaySeconds *prometheus.HistogramVec
	fetchDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors. Safe to call
// multiple times; only the first call registers the collectors.
func Init() {
	once.Do(func() {
		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skein_pages_crawled_total",
				Help: "Total number of pages successfully crawled and stored, labeled by domain.",
			},
			[]string{"domain"},
		)

		pagesFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skein_pages_failed_total",
				Help: "Total number of page fetch failures, labeled by domain and failure kind.",
			},
			[]string{"domain", "kind"},
		)

		duplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skein_duplicates_total",
				Help: "Total number of pages skipped as duplicates, labeled by domain and verdict.",
			},
			[]string{"domain", "verdict"},
		)

		pagesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "skein_pages_in_flight",
				Help: "Number of pages currently being fetched or processed.",
			},
		)

		frontierDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "skein_frontier_depth",
				Help: "Number of URLs currently queued in the frontier.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skein_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limiter wait durations.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skein_fetch_duration_seconds",
				Help:    "Histogram of fetch/render latencies, labeled by mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		)
	})
}

// Handler returns an http.Handler for exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageCrawled increments the crawled-pages counter for domain.
func ObservePageCrawled(domain string) {
	pagesCrawledTotal.WithLabelValues(domain).Inc()
}

// ObservePageFailed increments the failed-pages counter for domain/kind.
func ObservePageFailed(domain, kind string) {
	pagesFailedTotal.WithLabelValues(domain, kind).Inc()
}

// ObserveDuplicate increments the duplicate-pages counter for domain/verdict.
func ObserveDuplicate(domain, verdict string) {
	duplicatesTotal.WithLabelValues(domain, verdict).Inc()
}

// SetPagesInFlight reports the current number of pages being processed.
func SetPagesInFlight(n int) {
	pagesInFlight.Set(float64(n))
}

// SetFrontierDepth reports the current frontier queue depth.
func SetFrontierDepth(n int) {
	frontierDepth.Set(float64(n))
}

// ObserveRateLimitDelay records how long a fetch waited on the rate limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveFetchDuration records the latency of one fetch or render call.
func ObserveFetchDuration(mode string, d time.Duration) {
	fetchDurationSeconds.WithLabelValues(mode).Observe(d.Seconds())
}
