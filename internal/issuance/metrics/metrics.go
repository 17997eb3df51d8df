package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the issuance engine.
type Metrics struct {
	SessionsInitiated *prometheus.CounterVec
	SessionsCompleted *prometheus.CounterVec
	OffersServed      prometheus.Counter
	SessionsExpired   prometheus.Counter
}

// New creates and registers all issuance metrics.
func New() *Metrics {
	return &Metrics{
		SessionsInitiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_issuance_sessions_initiated_total",
			Help: "Total number of issuance sessions initiated, labeled by credential type",
		}, []string{"credential_type"}),
		SessionsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_issuance_sessions_completed_total",
			Help: "Total number of issuance sessions completed, labeled by credential type",
		}, []string{"credential_type"}),
		OffersServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_issuance_offers_served_total",
			Help: "Total number of credential offers served to wallets",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_issuance_sessions_expired_total",
			Help: "Total number of issuance sessions observed expired and lazily removed",
		}),
	}
}

// IncrementSessionsInitiated increments the initiated counter with the type label.
func (m *Metrics) IncrementSessionsInitiated(credentialType string) {
	m.SessionsInitiated.WithLabelValues(credentialType).Inc()
}

// IncrementSessionsCompleted increments the completed counter with the type label.
func (m *Metrics) IncrementSessionsCompleted(credentialType string) {
	m.SessionsCompleted.WithLabelValues(credentialType).Inc()
}

// IncrementOffersServed increments the offers served counter.
func (m *Metrics) IncrementOffersServed() {
	m.OffersServed.Inc()
}

// IncrementSessionsExpired increments the lazily expired sessions counter.
func (m *Metrics) IncrementSessionsExpired() {
	m.SessionsExpired.Inc()
}
