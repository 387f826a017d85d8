package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|invalid_credentials|pending|inactive|error).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhive_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// TokenRefreshes counts refresh-token rotations by result (rotated|reuse_detected|invalid|expired|error).
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhive_token_refreshes_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"result"},
	)

	// TokenFamiliesRevoked counts token families revoked because a rotated token was presented again.
	TokenFamiliesRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "taskhive_token_families_revoked_total",
			Help: "Refresh token families revoked after reuse detection",
		},
	)

	// GateDecisions counts authorization gate outcomes per check (allowed|denied|unauthorized|error).
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhive_gate_decisions_total",
			Help: "Total number of authorization gate decisions",
		},
		[]string{"check", "result"},
	)

	// PasswordResets counts password reset requests and completions.
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhive_password_resets_total",
			Help: "Password reset flow events",
		},
		[]string{"stage", "result"},
	)

	// TokensCleaned records rows removed by maintenance per table.
	TokensCleaned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskhive_tokens_cleaned_total",
			Help: "Expired token rows removed by maintenance",
		},
		[]string{"table"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskhive_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
