// Package metrics provides Prometheus metrics for stage resolution and the
// live event feeds.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes.
const (
	OutcomeResolved = "resolved"
	OutcomePartial  = "partial"
	OutcomeEmpty    = "empty"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Metrics struct {
	ResolutionsTotal    *prometheus.CounterVec
	ResolutionDuration  prometheus.Histogram
	DecisionsTotal      *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	Subscribers         prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grandtour_stage_resolutions_total",
				Help: "Stage resolution attempts by outcome.",
			},
			[]string{"outcome"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "grandtour_stage_resolution_duration_seconds",
				Help:    "Time spent resolving one stage.",
				Buckets: prometheus.DefBuckets,
			},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grandtour_decisions_total",
				Help: "Recorded rider decisions by choice.",
			},
			[]string{"choice"},
		),
		PersistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grandtour_persistence_failures_total",
				Help: "Writes that failed during stage resolution, by entity.",
			},
			[]string{"entity"},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grandtour_event_subscribers",
				Help: "Open SSE and WebSocket event subscriptions.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.ResolutionsTotal)
	reg.MustRegister(m.ResolutionDuration)
	reg.MustRegister(m.DecisionsTotal)
	reg.MustRegister(m.PersistenceFailures)
	reg.MustRegister(m.Subscribers)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResolution counts one resolution attempt and its duration.
func (m *Metrics) ObserveResolution(outcome string, seconds float64) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.Observe(seconds)
}

func (m *Metrics) RecordDecision(choice string) {
	m.DecisionsTotal.WithLabelValues(choice).Inc()
}

func (m *Metrics) RecordPersistenceFailure(entity string) {
	m.PersistenceFailures.WithLabelValues(entity).Inc()
}

func (m *Metrics) SubscriberAdded()   { m.Subscribers.Inc() }
func (m *Metrics) SubscriberRemoved() { m.Subscribers.Dec() }
