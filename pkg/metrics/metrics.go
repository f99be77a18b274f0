// Package metrics holds the Prometheus collectors for skumatch. Every binary
// owns its own registry so tests can build as many as they like.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skumatch"

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	reg *prometheus.Registry

	CatalogBuilds   *prometheus.CounterVec
	CatalogEntries  prometheus.Gauge
	EmbedDuration   *prometheus.HistogramVec
	EmbedFailures   *prometheus.CounterVec
	EmbedCache      *prometheus.CounterVec
	MatchItems      *prometheus.CounterVec
	MatchConfidence prometheus.Histogram
	BatchDuration   prometheus.Histogram
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		CatalogBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_builds_total",
			Help:      "Catalog index builds by outcome.",
		}, []string{"status"}),
		CatalogEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_entries",
			Help:      "Entries in the currently published catalog snapshot.",
		}),
		EmbedDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "embed_duration_seconds",
			Help:      "Embedding call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		EmbedFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_failures_total",
			Help:      "Embedding calls that failed after retries.",
		}, []string{"op"}),
		EmbedCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
		MatchItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_items_total",
			Help:      "Matched line items by outcome.",
		}, []string{"outcome"}),
		MatchConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_confidence",
			Help:      "Confidence of the top candidate per matched item.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a whole RFQ batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) CatalogBuilt(status string, entries int) {
	if m == nil {
		return
	}
	m.CatalogBuilds.WithLabelValues(status).Inc()
	if status == "ok" {
		m.CatalogEntries.Set(float64(entries))
	}
}

func (m *Metrics) ObserveEmbed(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.EmbedDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.EmbedFailures.WithLabelValues(op).Inc()
	}
}

// CacheLookup records "hit", "miss" or "error".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.EmbedCache.WithLabelValues(result).Inc()
}

// ItemMatched records one line item. confidence is ignored unless outcome is
// "matched".
func (m *Metrics) ItemMatched(outcome string, confidence float64) {
	if m == nil {
		return
	}
	m.MatchItems.WithLabelValues(outcome).Inc()
	if outcome == "matched" {
		m.MatchConfidence.Observe(confidence)
	}
}

func (m *Metrics) BatchDone(start time.Time) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(time.Since(start).Seconds())
}
