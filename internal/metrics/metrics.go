package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics holds the auth subsystem's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// AuthEventsTotal counts service operations such as login, refresh and logout.
	AuthEventsTotal *prometheus.CounterVec
	// AuthenticatorOutcomesTotal counts how each request was resolved by the authenticator.
	AuthenticatorOutcomesTotal *prometheus.CounterVec
	// GuardDecisionsTotal counts allow/deny decisions of the guard chain.
	GuardDecisionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_auth_events_total",
				Help: "Total number of auth service operations",
			},
			[]string{"event", "outcome"},
		),
		AuthenticatorOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_authenticator_outcomes_total",
				Help: "Total number of requests by authentication outcome",
			},
			[]string{"outcome"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portfolio_guard_decisions_total",
				Help: "Total number of authorization guard decisions",
			},
			[]string{"decision"},
		),
	}

	registry.MustRegister(
		m.AuthEventsTotal,
		m.AuthenticatorOutcomesTotal,
		m.GuardDecisionsTotal,
	)
	return m
}

// New builds Metrics on a fresh private registry.
func New() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// AuthEvent records one auth service operation. Safe on a nil receiver.
func (m *Metrics) AuthEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.AuthEventsTotal.WithLabelValues(event, outcome).Inc()
}

// AuthenticatorOutcome records how a request was authenticated. Safe on a nil receiver.
func (m *Metrics) AuthenticatorOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AuthenticatorOutcomesTotal.WithLabelValues(outcome).Inc()
}

// GuardDecision records an allow or deny decision. Safe on a nil receiver.
func (m *Metrics) GuardDecision(decision string) {
	if m == nil {
		return
	}
	m.GuardDecisionsTotal.WithLabelValues(decision).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
