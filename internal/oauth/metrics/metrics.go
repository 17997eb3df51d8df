package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the authorization and token endpoints.
type Metrics struct {
	AuthorizationsGranted prometheus.Counter
	TokensIssued          *prometheus.CounterVec
}

// New creates and registers all OAuth metrics.
func New() *Metrics {
	return &Metrics{
		AuthorizationsGranted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attesto_oauth_authorizations_granted_total",
			Help: "Total number of authorization codes issued",
		}),
		TokensIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attesto_oauth_tokens_issued_total",
			Help: "Total number of access tokens issued, labeled by grant type",
		}, []string{"grant_type"}),
	}
}

// IncrementAuthorizationsGranted increments the authorization codes counter.
func (m *Metrics) IncrementAuthorizationsGranted() {
	m.AuthorizationsGranted.Inc()
}

// IncrementTokensIssued increments the issued tokens counter with the grant type label.
func (m *Metrics) IncrementTokensIssued(grantType string) {
	m.TokensIssued.WithLabelValues(grantType).Inc()
}
