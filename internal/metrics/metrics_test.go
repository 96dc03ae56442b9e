package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldir/scaffoldir/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestDomainMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordRateLimitDecision("otp", true)
	RecordRateLimitDecision("otp", false)
	RecordFetchAttempt("")
	RecordFetchAttempt("timeout")
	RecordFetchRun("exhausted", 1500*time.Millisecond)
	RecordOTPIssued()
	RecordOTPVerification(false)
	RecordListingsStored(3)
	RecordListingsStored(0)

	assert.Equal(t, 2, collector.CountMetricsByName(RateLimitDecisionsTotal))
	assert.Equal(t, 2, collector.CountMetricsByName(FetchAttemptsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(FetchRunsTotal))
	assert.Positive(t, collector.CountMetricsByName(FetchRunDuration))
	assert.Equal(t, 1, collector.CountMetricsByName(OTPIssuedTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(OTPVerificationsTotal))
	assert.Equal(t, 1, collector.CountMetricsByName(ListingsStoredTotal))
}

func TestErrorMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordError("TOO_MANY_REQUESTS", 429)
	RecordErrorByEndpoint("/api/v1/otp", "TOO_MANY_REQUESTS")
	RecordPanic()

	assert.Equal(t, 1, collector.CountMetricsByName(ErrorsTotalName))
	assert.Equal(t, 1, collector.CountMetricsByName(ErrorsByEndpointName))
	assert.Equal(t, 1, collector.CountMetricsByName(PanicsTotalName))
}

func TestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	defer func() { observability.TelemetrySystem = original }()

	RecordFetchRun("succeeded", time.Second)
	RecordHealthCheck("store", true, time.Millisecond)
	SetServerStartTime(time.Now().Unix())
}
