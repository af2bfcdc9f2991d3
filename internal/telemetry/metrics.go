// Package telemetry records retrieval metrics. Prometheus collectors cover
// live monitoring; a bounded in-memory query log and optional SQLite daily
// aggregates cover local inspection. Nothing is reported externally.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/amanrag/internal/retrieval"
)

// Namespace prefixes every metric name.
const Namespace = "amanrag"

// Metrics is a retrieval.Observer backed by Prometheus collectors.
type Metrics struct {
	sourceResults *prometheus.CounterVec
	sourceLatency *prometheus.HistogramVec
	sourceHits    *prometheus.HistogramVec
	queriesTotal  *prometheus.CounterVec
	queryLatency  *prometheus.HistogramVec
	queryResults  prometheus.Histogram
	degradedTotal *prometheus.CounterVec
	entitiesTotal *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewMetrics registers the collectors on reg. A nil reg uses a fresh
// registry, which keeps tests and multiple engines independent.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

	return &Metrics{
		sourceResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "source_calls_total",
			Help:      "Source calls by terminal state.",
		}, []string{"source", "state"}),
		sourceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "source_duration_seconds",
			Help:      "Source call latency.",
			Buckets:   latencyBuckets,
		}, []string{"source"}),
		sourceHits: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "source_candidates",
			Help:      "Candidates returned per successful source call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}, []string{"source"}),
		queriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queries_total",
			Help:      "Retrieval requests by outcome and intent.",
		}, []string{"outcome", "intent"}),
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end retrieval latency.",
			Buckets:   latencyBuckets,
		}, []string{"outcome"}),
		queryResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "query_results",
			Help:      "Results returned per request.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		degradedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "degraded_sources_total",
			Help:      "Sources missing from a fused result.",
		}, []string{"source"}),
		entitiesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "expanded_entities_total",
			Help:      "Expanded entities by provenance.",
		}, []string{"provenance"}),
		gatherer: reg,
	}
}

// ObserveSource implements retrieval.Observer.
func (m *Metrics) ObserveSource(src retrieval.Source, state retrieval.SourceState, latency time.Duration, count int) {
	m.sourceResults.WithLabelValues(string(src), string(state)).Inc()
	if state == retrieval.StateSkipped || state == retrieval.StateCircuitOpen {
		return
	}
	m.sourceLatency.WithLabelValues(string(src)).Observe(latency.Seconds())
	if state == retrieval.StateOK {
		m.sourceHits.WithLabelValues(string(src)).Observe(float64(count))
	}
}

// ObserveQuery implements retrieval.Observer.
func (m *Metrics) ObserveQuery(ev retrieval.QueryEvent) {
	intent := ev.Intent
	if intent == "" {
		intent = "none"
	}
	m.queriesTotal.WithLabelValues(ev.Outcome, intent).Inc()
	m.queryLatency.WithLabelValues(ev.Outcome).Observe(ev.Latency.Seconds())
	m.queryResults.Observe(float64(ev.Results))
	for _, src := range ev.Degraded {
		m.degradedTotal.WithLabelValues(string(src)).Inc()
	}
	for prov, n := range ev.Entities {
		m.entitiesTotal.WithLabelValues(prov).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Multi fans observations out to several observers.
type Multi []retrieval.Observer

// ObserveSource implements retrieval.Observer.
func (o Multi) ObserveSource(src retrieval.Source, state retrieval.SourceState, latency time.Duration, count int) {
	for _, x := range o {
		x.ObserveSource(src, state, latency, count)
	}
}

// ObserveQuery implements retrieval.Observer.
func (o Multi) ObserveQuery(ev retrieval.QueryEvent) {
	for _, x := range o {
		x.ObserveQuery(ev)
	}
}
