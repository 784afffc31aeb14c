// Package metrics provides Prometheus metrics for the consultation service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	ParseRepairsTotal   *prometheus.CounterVec
	RelaysTotal         *prometheus.CounterVec
	ContractViolations  *prometheus.CounterVec
	CollaboratorLatency prometheus.Histogram
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_turns_total",
				Help: "Total consultation turns by stage and status.",
			},
			[]string{"stage", "status"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crucible_turn_duration_seconds",
				Help:    "Turn processing duration by stage.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		ParseRepairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_parse_repairs_total",
				Help: "Structured-output parses by repair tier reached.",
			},
			[]string{"tier"},
		),
		RelaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_relays_total",
				Help: "Relay syntheses by source stage and result.",
			},
			[]string{"stage", "result"},
		),
		ContractViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_contract_violations_total",
				Help: "Collaborator contract violations by kind.",
			},
			[]string{"kind"},
		),
		CollaboratorLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crucible_collaborator_latency_seconds",
				Help:    "Generative collaborator call latency.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucible_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TurnsTotal)
	reg.MustRegister(m.TurnDuration)
	reg.MustRegister(m.ParseRepairsTotal)
	reg.MustRegister(m.RelaysTotal)
	reg.MustRegister(m.ContractViolations)
	reg.MustRegister(m.CollaboratorLatency)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn increments the turn counter.
func (m *Metrics) RecordTurn(stage, status string) {
	m.TurnsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveTurn records turn duration.
func (m *Metrics) ObserveTurn(stage string, seconds float64) {
	m.TurnDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordParseTier counts which repair tier recovered a parse.
func (m *Metrics) RecordParseTier(tier string) {
	m.ParseRepairsTotal.WithLabelValues(tier).Inc()
}

// RecordRelay increments the relay synthesis counter.
func (m *Metrics) RecordRelay(stage, result string) {
	m.RelaysTotal.WithLabelValues(stage, result).Inc()
}

// RecordViolation counts a collaborator contract violation.
func (m *Metrics) RecordViolation(kind string) {
	m.ContractViolations.WithLabelValues(kind).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
