// Package metrics exposes the platform's Prometheus metrics: a fixed set
// of counters/gauges/histograms for the recalculation engine and HTTP
// API, rather than the teacher's generic named-metric registry
// (engine/telemetry/metrics/prometheus.go) — this platform has a known,
// small metric surface so the indirection isn't needed.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service registers, grouped by the
// component that emits them (spec §4.5's Phase A/B, the HTTP API, the
// queue consumer).
type Metrics struct {
	registry *prometheus.Registry

	BeatmapsRecalculated *prometheus.CounterVec
	UsersRecalculated    *prometheus.CounterVec
	RecalculationErrors  *prometheus.CounterVec
	PhaseDuration        *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueueDepth     prometheus.Gauge
	QueueConsumed  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// New builds and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		BeatmapsRecalculated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "performance_service",
			Name:      "beatmaps_recalculated_total",
			Help:      "Beatmaps whose scores were recomputed by Phase A.",
		}, []string{"mode", "rx"}),
		UsersRecalculated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "performance_service",
			Name:      "users_recalculated_total",
			Help:      "Users whose aggregate pp was recomputed by Phase B.",
		}, []string{"mode", "rx"}),
		RecalculationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "performance_service",
			Name:      "recalculation_errors_total",
			Help:      "Per-beatmap or per-user recalculation failures, isolated by errgroup.",
		}, []string{"phase"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "performance_service",
			Name:      "phase_duration_seconds",
			Help:      "Wall time spent running one phase A/B pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "performance_service",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "performance_service",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "performance_service",
			Name:      "queue_depth",
			Help:      "Pending rework recalculation jobs, as last observed by the consumer.",
		}),
		QueueConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "performance_service",
			Name:      "queue_jobs_consumed_total",
			Help:      "Rework recalculation jobs consumed off the broker.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "performance_service",
			Name:      "active_sessions",
			Help:      "Rework reviewer sessions currently valid.",
		}),
	}

	reg.MustRegister(
		m.BeatmapsRecalculated, m.UsersRecalculated, m.RecalculationErrors, m.PhaseDuration,
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.QueueDepth, m.QueueConsumed, m.ActiveSessions,
	)
	return m
}

// Handler exposes the registry over /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePhase records one phase's duration.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
