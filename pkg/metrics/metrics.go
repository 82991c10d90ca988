// Package metrics defines the Prometheus collectors used by the index
// writer, the searcher and the search API, and exposes an HTTP handler for
// scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for termindex.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsAddedTotal       prometheus.Counter
	DocsDeletedTotal     prometheus.Counter
	CommitsTotal         *prometheus.CounterVec
	CommitDuration       prometheus.Histogram
	IndexGeneration      prometheus.Gauge
	LiveDocs             prometheus.Gauge
	SegmentCount         prometheus.Gauge
	OpenSnapshots        prometheus.Gauge
	ReclaimedFilesTotal  prometheus.Counter
}

// New creates all collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termindex_search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "termindex_search_results_count",
				Help:    "Number of hits returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		DocsAddedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_docs_added_total",
				Help: "Total documents buffered by the index writer.",
			},
		),
		DocsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_docs_deleted_total",
				Help: "Total documents tombstoned by the index writer.",
			},
		),
		CommitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_commits_total",
				Help: "Total commit operations by status.",
			},
			[]string{"status"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "termindex_commit_duration_seconds",
				Help:    "Commit latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "termindex_generation",
				Help: "Newest published index generation.",
			},
		),
		LiveDocs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "termindex_live_docs",
				Help: "Live (non-tombstoned) documents in the newest generation.",
			},
		),
		SegmentCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "termindex_segments",
				Help: "Segments referenced by the newest generation.",
			},
		),
		OpenSnapshots: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "termindex_open_snapshots",
				Help: "Snapshot references currently held by searchers and writers.",
			},
		),
		ReclaimedFilesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_reclaimed_files_total",
				Help: "Index files deleted after their generation was released.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsAddedTotal,
		m.DocsDeletedTotal,
		m.CommitsTotal,
		m.CommitDuration,
		m.IndexGeneration,
		m.LiveDocs,
		m.SegmentCount,
		m.OpenSnapshots,
		m.ReclaimedFilesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
