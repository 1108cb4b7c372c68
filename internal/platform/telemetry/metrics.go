package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Permission decisions by outcome ("allow", "deny")
	Decisions *prometheus.CounterVec

	// KYC status transitions by target status and result
	Transitions *prometheus.CounterVec

	// Document verification outcomes ("verified", "unverified")
	Verifications *prometheus.CounterVec

	// Role mutations by operation and result
	RoleMutations *prometheus.CounterVec

	// Audit/domain events dropped because the sink buffer was full
	EventsDropped prometheus.Counter
}

// NewMetrics registers every collector on a fresh registry so tests and
// multiple servers in one process never collide on the default registerer.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycgate_permission_decisions_total",
			Help: "Permission evaluations by outcome",
		}, []string{"outcome"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycgate_kyc_transitions_total",
			Help: "KYC status transition attempts by target status and result",
		}, []string{"to", "result"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycgate_document_verifications_total",
			Help: "Identity document verification outcomes",
		}, []string{"outcome"}),
		RoleMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kycgate_role_mutations_total",
			Help: "Role create/update/delete attempts by result",
		}, []string{"op", "result"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "kycgate_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.Decisions.WithLabelValues("allow").Inc()
		return
	}
	m.Decisions.WithLabelValues("deny").Inc()
}

func (m *Metrics) ObserveTransition(to, result string) {
	if m != nil {
		m.Transitions.WithLabelValues(to, result).Inc()
	}
}

func (m *Metrics) ObserveVerification(verified bool) {
	if m == nil {
		return
	}
	if verified {
		m.Verifications.WithLabelValues("verified").Inc()
		return
	}
	m.Verifications.WithLabelValues("unverified").Inc()
}

func (m *Metrics) ObserveRoleMutation(op, result string) {
	if m != nil {
		m.RoleMutations.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) IncEventsDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

// Result maps an operation error to the label used by the counters above:
// "ok" or the error's stable code.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.CodeOf(err))
}
