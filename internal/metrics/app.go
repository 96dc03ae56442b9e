package metrics

import (
	"time"

	"github.com/scaffoldir/scaffoldir/internal/observability"
)

// Application metrics following Prometheus conventions.
const (
	RateLimitDecisionsTotal = "ratelimit_decisions_total"
	FetchAttemptsTotal      = "fetch_attempts_total"
	FetchRunsTotal          = "fetch_runs_total"
	FetchRunDuration        = "fetch_run_duration_ms"
	OTPIssuedTotal          = "otp_issued_total"
	OTPVerificationsTotal   = "otp_verifications_total"
	ListingsStoredTotal     = "listings_stored_total"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
)

// RecordRateLimitDecision counts one limiter decision for operation.
func RecordRateLimitDecision(operation string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisionsTotal,
			1,
			map[string]string{
				"operation": operation,
				"decision":  decision,
			},
		)
	}
}

// RecordFetchAttempt counts one endpoint attempt. kind is "ok" on success.
func RecordFetchAttempt(kind string) {
	if kind == "" {
		kind = "ok"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FetchAttemptsTotal,
			1,
			map[string]string{"kind": kind},
		)
	}
}

// RecordFetchRun records the outcome and duration of a whole failover sequence.
func RecordFetchRun(outcome string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FetchRunsTotal,
			1,
			map[string]string{"outcome": outcome},
		)

		_ = observability.TelemetrySystem.Histogram(
			FetchRunDuration,
			duration,
			map[string]string{"outcome": outcome},
		)
	}
}

// RecordOTPIssued counts codes handed to the sender.
func RecordOTPIssued() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(OTPIssuedTotal, 1, nil)
	}
}

// RecordOTPVerification counts verification attempts by result.
func RecordOTPVerification(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			OTPVerificationsTotal,
			1,
			map[string]string{"status": status},
		)
	}
}

// RecordListingsStored counts listings written to the store.
func RecordListingsStored(count int) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ListingsStoredTotal, float64(count), nil)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
