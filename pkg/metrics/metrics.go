package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visera_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// Signups counts account registrations by result (success|conflict|error).
	Signups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visera_signups_total",
			Help: "Total number of signup attempts",
		},
		[]string{"result"},
	)

	// EmailVerifications counts verification checks by method (otp|link) and result.
	EmailVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visera_email_verifications_total",
			Help: "Total number of email verification attempts",
		},
		[]string{"method", "result"},
	)

	// MailDeliveries counts outbound mail by result.
	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visera_mail_deliveries_total",
			Help: "Total number of outbound emails",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visera_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// MaintenanceRuns counts maintenance job executions by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visera_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// RateLimited counts requests rejected by a rate limiter, by scope (global|auth).
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visera_rate_limited_total",
			Help: "Total number of requests rejected by rate limiting",
		},
		[]string{"scope"},
	)

	// HTTPInFlight is the number of requests currently being served.
	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "visera_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visera_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
