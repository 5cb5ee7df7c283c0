// Package metrics holds the Prometheus instruments of the agent.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for resolution, issuance and verification.
// A nil *Metrics records nothing.
type Metrics struct {
	// Resolutions by DID method and result
	Resolutions *prometheus.CounterVec

	// Resolution latency by DID method
	ResolutionLatency *prometheus.HistogramVec

	// Issued credentials and presentations by proof format and kind
	CredentialsIssued *prometheus.CounterVec

	// Verification outcomes by kind and result
	Verifications *prometheus.CounterVec
}

// New creates a Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didagent_resolutions_total",
			Help: "Total DID resolutions by method and result",
		}, []string{"method", "result"}), // result: "ok", "local", "cache_hit", "not_found", "error"

		ResolutionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "didagent_resolution_duration_seconds",
			Help:    "Duration of DID resolution including retries",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method"}),

		CredentialsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didagent_credentials_issued_total",
			Help: "Total issued credentials and presentations by proof format",
		}, []string{"format", "kind"}), // kind: "credential", "presentation"

		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "didagent_verifications_total",
			Help: "Total verifications by kind and result",
		}, []string{"kind", "result"}), // result: "valid", "invalid", "malformed"
	}
}

// IncResolution records a resolution result.
func (m *Metrics) IncResolution(method, result string) {
	if m != nil {
		m.Resolutions.WithLabelValues(method, result).Inc()
	}
}

// ObserveResolution records the duration of a resolution.
func (m *Metrics) ObserveResolution(method string, d time.Duration) {
	if m != nil {
		m.ResolutionLatency.WithLabelValues(method).Observe(d.Seconds())
	}
}

// IncIssued records an issued credential or presentation.
func (m *Metrics) IncIssued(format, kind string) {
	if m != nil {
		m.CredentialsIssued.WithLabelValues(format, kind).Inc()
	}
}

// IncVerification records a verification outcome.
func (m *Metrics) IncVerification(kind, result string) {
	if m != nil {
		m.Verifications.WithLabelValues(kind, result).Inc()
	}
}
