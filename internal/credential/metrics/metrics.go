package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for credential signing and verification.
type Metrics struct {
	CredentialsIssued     *prometheus.CounterVec
	CredentialsVerified   *prometheus.CounterVec
	PresentationsVerified *prometheus.CounterVec
	SignDuration          prometheus.Histogram
	VerifyDuration        prometheus.Histogram
}

// New creates and registers all credential metrics.
func New() *Metrics {
	return &Metrics{
		CredentialsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_credentials_issued_total",
			Help: "Total number of credentials issued, labeled by credential type",
		}, []string{"credential_type"}),
		CredentialsVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_credentials_verified_total",
			Help: "Total number of credential verifications, labeled by outcome",
		}, []string{"outcome"}),
		PresentationsVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_presentations_verified_total",
			Help: "Total number of presentation verifications, labeled by outcome",
		}, []string{"outcome"}),
		SignDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attesto_credential_sign_duration_seconds",
			Help:    "Duration of credential signing operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attesto_credential_verify_duration_seconds",
			Help:    "Duration of credential verification operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCredentialsIssued increments the issued counter with the type label.
func (m *Metrics) IncrementCredentialsIssued(credentialType string) {
	m.CredentialsIssued.WithLabelValues(credentialType).Inc()
}

// IncrementCredentialsVerified increments the verified counter with the outcome label.
func (m *Metrics) IncrementCredentialsVerified(outcome string) {
	m.CredentialsVerified.WithLabelValues(outcome).Inc()
}

// IncrementPresentationsVerified increments the presentation counter with the outcome label.
func (m *Metrics) IncrementPresentationsVerified(outcome string) {
	m.PresentationsVerified.WithLabelValues(outcome).Inc()
}

// ObserveSignDuration records the latency of a signing operation.
func (m *Metrics) ObserveSignDuration(start time.Time) {
	m.SignDuration.Observe(time.Since(start).Seconds())
}

// ObserveVerifyDuration records the latency of a verification operation.
func (m *Metrics) ObserveVerifyDuration(start time.Time) {
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}
