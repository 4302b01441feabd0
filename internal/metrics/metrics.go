// Package metrics registers the Prometheus instrumentation for the auth
// service. One rule governs label choice: cardinality must never leak user
// existence, so challenge issuance counts real and decoy paths in a single
// series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the auth service.
type Metrics struct {
	RegistrationsTotal *prometheus.CounterVec

	// ChallengesIssued deliberately carries no real/decoy label.
	ChallengesIssued prometheus.Counter

	VerifyTotal    *prometheus.CounterVec
	VerifyDuration prometheus.Histogram

	ModPowDuration prometheus.Histogram
	PoolQueueDepth prometheus.Gauge
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RegistrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkauth_registrations_total",
				Help: "Registration attempts by outcome",
			},
			[]string{"outcome"}, // created, conflict, invalid, error
		),

		ChallengesIssued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "zkauth_challenges_issued_total",
				Help: "Challenges issued (real and decoy paths combined)",
			},
		),

		VerifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkauth_verify_total",
				Help: "Proof verifications by internal outcome",
			},
			// accept, session_not_found, binding_mismatch, proof_invalid,
			// invalid, error
			[]string{"outcome"},
		),

		VerifyDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zkauth_verify_duration_seconds",
				Help:    "End-to-end verify latency including exponentiation",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 2, 5},
			},
		),

		ModPowDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zkauth_modpow_duration_seconds",
				Help:    "Single 1536-bit modular exponentiation latency",
				Buckets: []float64{0.01, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1},
			},
		),

		PoolQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "zkauth_cpu_pool_queue_depth",
				Help: "Tasks waiting in the CPU worker pool",
			},
		),
	}
}

// RecordRegistration counts a registration attempt.
func (m *Metrics) RecordRegistration(outcome string) {
	m.RegistrationsTotal.WithLabelValues(outcome).Inc()
}

// RecordChallenge counts an issued challenge.
func (m *Metrics) RecordChallenge() {
	m.ChallengesIssued.Inc()
}

// RecordVerify counts a verify attempt and observes its latency.
func (m *Metrics) RecordVerify(outcome string, elapsed time.Duration) {
	m.VerifyTotal.WithLabelValues(outcome).Inc()
	m.VerifyDuration.Observe(elapsed.Seconds())
}
