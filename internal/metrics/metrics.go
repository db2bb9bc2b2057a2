// Package metrics holds the Prometheus collectors for intents, pipeline
// stages and navigation reapply. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a registry plus the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	IntentTotal        *prometheus.CounterVec
	StageFailTotal     *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	ApplyInFlight      prometheus.Gauge
	ReapplyTotal       *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		IntentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibestyler_intent_total",
				Help: "Intents handled, by kind and result.",
			},
			[]string{"kind", "result"}, // result: success | failure
		),
		StageFailTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibestyler_stage_fail_total",
				Help: "Pipeline failures, by stage and error kind.",
			},
			[]string{"stage", "kind"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vibestyler_generation_duration_seconds",
				Help:    "Latency of generator calls.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
		),
		ApplyInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vibestyler_apply_in_flight",
				Help: "Apply intents currently running.",
			},
		),
		ReapplyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibestyler_reapply_total",
				Help: "Navigation reapply attempts, by result.",
			},
			[]string{"result"}, // applied | skipped | failed
		),
	}
	m.Registry.MustRegister(
		m.IntentTotal, m.StageFailTotal,
		m.GenerationDuration, m.ApplyInFlight,
		m.ReapplyTotal,
	)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Intent counts one handled intent.
func (m *Metrics) Intent(kind string, ok bool) {
	if m == nil {
		return
	}
	m.IntentTotal.WithLabelValues(kind, result(ok)).Inc()
}

// StageFailure counts a pipeline failure.
func (m *Metrics) StageFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.StageFailTotal.WithLabelValues(stage, kind).Inc()
}

// Generation observes one generator call.
func (m *Metrics) Generation(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(d.Seconds())
}

// ApplyStarted and ApplyFinished track running applies.
func (m *Metrics) ApplyStarted() {
	if m == nil {
		return
	}
	m.ApplyInFlight.Inc()
}

func (m *Metrics) ApplyFinished() {
	if m == nil {
		return
	}
	m.ApplyInFlight.Dec()
}

// Reapply counts one reconciler decision.
func (m *Metrics) Reapply(result string) {
	if m == nil {
		return
	}
	m.ReapplyTotal.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
