// Package metrics defines the engine's Prometheus instrumentation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's counters. Construct one instance per process
// and share it; tests use a fresh registry.
type Metrics struct {
	// RequestsCreated counts activation requests created, by activation type.
	RequestsCreated *prometheus.CounterVec

	// ActivationsGranted counts activations successfully provisioned, by
	// activation type.
	ActivationsGranted *prometheus.CounterVec

	// ActivationFailures counts activation attempts that failed after the
	// request was accepted, by activation type.
	ActivationFailures *prometheus.CounterVec

	// TokensSigned counts activation tokens issued.
	TokensSigned prometheus.Counter

	// TokenVerificationFailures counts tokens rejected during verification.
	TokenVerificationFailures prometheus.Counter
}

// New builds the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitaccess",
			Name:      "activation_requests_total",
			Help:      "Activation requests created, by activation type.",
		}, []string{"type"}),
		ActivationsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitaccess",
			Name:      "activations_granted_total",
			Help:      "Activations successfully provisioned, by activation type.",
		}, []string{"type"}),
		ActivationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jitaccess",
			Name:      "activation_failures_total",
			Help:      "Activation attempts that failed after request validation, by activation type.",
		}, []string{"type"}),
		TokensSigned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jitaccess",
			Name:      "tokens_signed_total",
			Help:      "Activation tokens issued for peer approval.",
		}),
		TokenVerificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jitaccess",
			Name:      "token_verification_failures_total",
			Help:      "Activation tokens rejected during verification.",
		}),
	}
	reg.MustRegister(
		m.RequestsCreated,
		m.ActivationsGranted,
		m.ActivationFailures,
		m.TokensSigned,
		m.TokenVerificationFailures,
	)
	return m
}
