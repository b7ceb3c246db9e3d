// Package metrics provides Prometheus metrics for the query service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for QueriesTotal.
const (
	OutcomeAnswered   = "answered"
	OutcomeCacheHit   = "cache_hit"
	OutcomeInvalid    = "invalid"
	OutcomeCompletion = "completion_failed"
	OutcomeError      = "error"
)

// Metrics holds all Prometheus metrics for the query path
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Query metrics
	QueriesTotal       *prometheus.CounterVec
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   prometheus.Counter
	CacheEntries       prometheus.Gauge
	PersistFailures    prometheus.Counter
	EmbeddingDuration  prometheus.Histogram
	CompletionDuration prometheus.Histogram

	// Graph metrics
	GraphNodes  *prometheus.GaugeVec
	CorpusNodes prometheus.Gauge
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specgraph_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "specgraph_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.HTTPRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "specgraph_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.QueriesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specgraph_queries_total",
			Help: "Total number of queries by outcome",
		},
		[]string{"outcome"},
	)

	m.CacheHitsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specgraph_cache_hits_total",
			Help: "Response cache hits by lookup kind",
		},
		[]string{"kind"},
	)

	m.CacheMissesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "specgraph_cache_misses_total",
			Help: "Response cache misses",
		},
	)

	m.CacheEntries = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "specgraph_cache_entries",
			Help: "Current number of cached answers",
		},
	)

	m.PersistFailures = f.NewCounter(
		prometheus.CounterOpts{
			Name: "specgraph_cache_persist_failures_total",
			Help: "Failed writes of the response cache",
		},
	)

	m.EmbeddingDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "specgraph_embedding_duration_seconds",
			Help:    "Duration of query embedding calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	m.CompletionDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "specgraph_completion_duration_seconds",
			Help:    "Duration of completion calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		},
	)

	m.GraphNodes = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "specgraph_graph_nodes",
			Help: "Nodes of the loaded graph by change type",
		},
		[]string{"change"},
	)

	m.CorpusNodes = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "specgraph_corpus_nodes",
			Help: "Nodes with a corpus embedding",
		},
	)

	return m
}

// RecordHTTPRequest records one served HTTP request
func (m *Metrics) RecordHTTPRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) RecordQuery(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts a hit of kind "exact" or "fuzzy"
func (m *Metrics) RecordCacheHit(kind string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

func (m *Metrics) ObserveEmbedding(d time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCompletion(d time.Duration) {
	if m == nil {
		return
	}
	m.CompletionDuration.Observe(d.Seconds())
}

// SetGraphStats publishes node counts per change type and the corpus size
func (m *Metrics) SetGraphStats(byChange map[string]int, corpus int) {
	if m == nil {
		return
	}
	m.GraphNodes.Reset()
	for change, n := range byChange {
		m.GraphNodes.WithLabelValues(change).Set(float64(n))
	}
	m.CorpusNodes.Set(float64(corpus))
}
