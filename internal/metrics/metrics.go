// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal      *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	cacheLookupsTotal *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
	breakerOpensTotal *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	rowsExportedTotal *prometheus.CounterVec
	activeWorkers     prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcrawl_fetches_total",
				Help: "Total fetches, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketcrawl_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by strategy.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcrawl_cache_lookups_total",
				Help: "Cache lookups, labeled by result (hit, miss, expired).",
			},
			[]string{"result"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcrawl_retries_total",
				Help: "Retry attempts, labeled by host.",
			},
			[]string{"host"},
		)

		breakerOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcrawl_breaker_opens_total",
				Help: "Circuit breaker open transitions, labeled by host.",
			},
			[]string{"host"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcrawl_jobs_total",
				Help: "Crawl jobs processed, labeled by market and terminal state.",
			},
			[]string{"market", "state"},
		)

		rowsExportedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketcrawl_rows_exported_total",
				Help: "Spreadsheet rows appended, labeled by market.",
			},
			[]string{"market"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "marketcrawl_active_workers",
				Help: "Number of workers currently processing jobs.",
			},
		)
	})
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(host, outcome, strategy string, elapsed time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(host, outcome).Inc()
	fetchDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// ObserveCacheLookup records a cache hit, miss, or expired entry.
func ObserveCacheLookup(result string) {
	if cacheLookupsTotal == nil {
		return
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry records one retry against a host.
func ObserveRetry(host string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(host).Inc()
}

// ObserveBreakerOpen records a breaker opening for a host.
func ObserveBreakerOpen(host string) {
	if breakerOpensTotal == nil {
		return
	}
	breakerOpensTotal.WithLabelValues(host).Inc()
}

// ObserveJob records a job reaching a terminal state.
func ObserveJob(market, state string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(market, state).Inc()
}

// ObserveRowExported records one appended spreadsheet row.
func ObserveRowExported(market string) {
	if rowsExportedTotal == nil {
		return
	}
	rowsExportedTotal.WithLabelValues(market).Inc()
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func WorkerStopped() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
