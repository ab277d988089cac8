// Package metrics exposes Prometheus collectors for the indexer service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded by ObserveItem.
const (
	OutcomeIndexed   = "indexed"
	OutcomeRejected  = "rejected"
	OutcomeNoContent = "no_content"
	OutcomeFailed    = "failed"
)

var (
	stubsFetchedTotal          prometheus.Counter
	itemsTotal                 *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	resolveDurationSeconds     *prometheus.HistogramVec
	articlesSweptTotal         prometheus.Counter
	openSessions               prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stubsFetchedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsindexer_stubs_fetched_total",
				Help: "Total number of article stubs returned by the metadata feed.",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsindexer_items_total",
				Help: "Total number of stubs processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsindexer_runs_total",
				Help: "Total number of ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "newsindexer_run_duration_seconds",
				Help:    "Histogram of ingestion run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		resolveDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsindexer_resolve_duration_seconds",
				Help:    "Histogram of content resolution latencies, labeled by site.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		articlesSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsindexer_articles_swept_total",
				Help: "Total number of articles removed by the retention sweeper.",
			},
		)

		openSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsindexer_open_sessions",
				Help: "Number of rendering sessions currently held.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveStubs records the number of stubs returned by one feed fetch.
func ObserveStubs(n int) {
	Init()
	stubsFetchedTotal.Add(float64(n))
}

// ObserveItem records the outcome of one stub.
func ObserveItem(link, outcome string) {
	Init()
	itemsTotal.WithLabelValues(SanitizeSite(link), outcome).Inc()
}

// ObserveRun records a finished run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveResolve records the latency of one content resolution.
func ObserveResolve(link string, duration time.Duration) {
	Init()
	resolveDurationSeconds.WithLabelValues(SanitizeSite(link)).Observe(duration.Seconds())
}

// ObserveSwept records articles removed by a retention sweep.
func ObserveSwept(n int64) {
	Init()
	if n > 0 {
		articlesSweptTotal.Add(float64(n))
	}
}

// IncOpenSessions increments the open sessions gauge.
func IncOpenSessions() {
	Init()
	openSessions.Inc()
}

// DecOpenSessions decrements the open sessions gauge.
func DecOpenSessions() {
	Init()
	openSessions.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
