// Package telemetry exposes Prometheus metrics for the scoring worker and the
// upload gateway. Every Metrics value owns its registry, so tests and multiple
// daemons in one process never collide on registration.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbiter"

// Metrics groups the collectors arbiter records.
type Metrics struct {
	registry *prometheus.Registry

	scored        *prometheus.CounterVec
	failed        *prometheus.CounterVec
	scoreDuration *prometheus.HistogramVec
	tickDuration  *prometheus.HistogramVec
	ticks         *prometheus.CounterVec
	leaderboard   *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	bestScore     *prometheus.GaugeVec
}

// New builds a registry with process collectors and arbiter's own metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		scored: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "submissions_scored_total",
			Help:      "Submissions scored successfully.",
		}, []string{"track"}),
		failed: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "submissions_failed_total",
			Help:      "Scoring attempts that failed, by failure kind.",
		}, []string{"track", "kind"}),
		scoreDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "score_duration_seconds",
			Help:      "Time spent scoring one submission.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"track"}),
		tickDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one scan-and-score tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"track"}),
		ticks: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "ticks_total",
			Help:      "Completed ticks by trigger.",
		}, []string{"track", "trigger"}),
		leaderboard: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "updates_total",
			Help:      "Leaderboard rows replaced by a better score.",
		}, []string{"track"}),
		uploads: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome.",
		}, []string{"track", "outcome"}),
		bestScore: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "best_primary",
			Help:      "Primary value of the leading team on each track.",
		}, []string{"track"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Nil receivers are accepted so callers can run without telemetry.

func (m *Metrics) Scored(track string, took time.Duration) {
	if m == nil {
		return
	}
	m.scored.WithLabelValues(track).Inc()
	m.scoreDuration.WithLabelValues(track).Observe(took.Seconds())
}

func (m *Metrics) Failed(track, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.failed.WithLabelValues(track, kind).Inc()
}

func (m *Metrics) Tick(track, trigger string, took time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(track, trigger).Inc()
	m.tickDuration.WithLabelValues(track).Observe(took.Seconds())
}

func (m *Metrics) LeaderboardUpdated(track string) {
	if m == nil {
		return
	}
	m.leaderboard.WithLabelValues(track).Inc()
}

func (m *Metrics) Upload(track, outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(track, outcome).Inc()
}

func (m *Metrics) BestPrimary(track string, value float64) {
	if m == nil {
		return
	}
	m.bestScore.WithLabelValues(track).Set(value)
}
