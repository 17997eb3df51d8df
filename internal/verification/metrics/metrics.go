package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the verification engine.
type Metrics struct {
	SessionsInitiated      prometheus.Counter
	RequestObjectsCreated  prometheus.Counter
	PresentationsSubmitted *prometheus.CounterVec
}

// New creates and registers all verification metrics.
func New() *Metrics {
	return &Metrics{
		SessionsInitiated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_verification_sessions_initiated_total",
			Help: "Total number of verification sessions initiated",
		}),
		RequestObjectsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_verification_request_objects_total",
			Help: "Total number of presentation request objects created",
		}),
		PresentationsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_verification_presentations_submitted_total",
			Help: "Total number of presentations submitted, labeled by outcome",
		}, []string{"outcome"}),
	}
}

// IncrementSessionsInitiated increments the initiated sessions counter.
func (m *Metrics) IncrementSessionsInitiated() {
	m.SessionsInitiated.Inc()
}

// IncrementRequestObjectsCreated increments the request objects counter.
func (m *Metrics) IncrementRequestObjectsCreated() {
	m.RequestObjectsCreated.Inc()
}

// IncrementPresentationsSubmitted increments the submissions counter with the outcome label.
func (m *Metrics) IncrementPresentationsSubmitted(outcome string) {
	m.PresentationsSubmitted.WithLabelValues(outcome).Inc()
}
