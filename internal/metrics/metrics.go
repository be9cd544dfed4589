// Package metrics exports retrieval counters and latencies in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diaryrag"

// Search outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is valid
// and records nothing, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	decodeFailures *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	searches       *prometheus.CounterVec
	searchLatency  prometheus.Histogram
	embedLatency   prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.decodeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Stored records skipped because they could not be decoded",
		},
		[]string{"backend"},
	)

	m.fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Reads served by a fallback link of the store chain",
		},
		[]string{"source"},
	)

	m.searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Search calls by outcome",
		},
		[]string{"outcome"},
	)

	m.searchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	m.embedLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_duration_seconds",
			Help:      "Query embedding latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	m.registry.MustRegister(
		m.decodeFailures,
		m.fallbacks,
		m.searches,
		m.searchLatency,
		m.embedLatency,
	)
	return m
}

// DecodeFailure counts one undecodable record from backend.
func (m *Metrics) DecodeFailure(backend string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(backend).Inc()
}

// Fallback counts one read served by source ("secondary", "builtin" or "unavailable").
func (m *Metrics) Fallback(source string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(source).Inc()
}

// Search records a finished search.
func (m *Metrics) Search(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchLatency.Observe(d.Seconds())
}

// Embed records one query embedding.
func (m *Metrics) Embed(d time.Duration) {
	if m == nil {
		return
	}
	m.embedLatency.Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
