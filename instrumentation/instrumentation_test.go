package instrumentation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultServiceName, inst.config.ServiceName)
	assert.Equal(t, DefaultServiceVersion, inst.config.ServiceVersion)
	assert.NotNil(t, inst.MeterProvider())
	assert.NotNil(t, inst.TracerProvider())
	assert.NotNil(t, inst.Metrics())
}

func TestNewEnabled(t *testing.T) {
	inst, err := New(Config{
		ServiceName:    "contact-form",
		ServiceVersion: "1.2.3",
		Enabled:        true,
	})
	require.NoError(t, err)

	assert.NotNil(t, inst.Meter("pipeline"))
	assert.NotNil(t, inst.Tracer("client"))
	require.NotNil(t, inst.Metrics())
	assert.NotNil(t, inst.Metrics().FormValidationsTotal)
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{})
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, inst.Shutdown(ctx))
	assert.NoError(t, inst.Shutdown(ctx))
}

func TestMetricsRecordingIsNilSafe(t *testing.T) {
	ctx := context.Background()

	// Components call these without knowing whether instrumentation was
	// attached; a nil receiver must never panic.
	var m *Metrics
	m.RecordFormValidation(ctx, "contact-form", true)
	m.RecordRateLimitDenied(ctx, "contact-form")
	m.RecordSanitizationRejected(ctx, "message")
	m.RecordCSRFFailure(ctx, "token_expired")
	m.RecordTokenRefresh(ctx, false)
	m.RecordAPIRequest(ctx, "calendar", 200, 120*time.Millisecond)
}

func TestMetricsRecordingWithNoopProviders(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordFormValidation(ctx, "contact-form", false)
	m.RecordRateLimitDenied(ctx, "contact-form")
	m.RecordCSRFFailure(ctx, "token_missing")
	m.RecordAPIRequest(ctx, "calendar", 503, time.Second)
}
