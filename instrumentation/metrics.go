package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the library. Every Record
// method is safe on a nil receiver so components can call them without
// checking whether instrumentation was attached.
type Metrics struct {
	// Pipeline metrics
	FormValidationsTotal metric.Int64Counter

	// Security metrics
	RateLimitDeniedTotal      metric.Int64Counter
	SanitizationRejectedTotal metric.Int64Counter
	CSRFFailuresTotal         metric.Int64Counter

	// Token metrics
	TokenRefreshesTotal metric.Int64Counter

	// API client metrics
	APIRequestsTotal   metric.Int64Counter
	APIRequestDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	pipelineMeter := inst.Meter("pipeline")
	securityMeter := inst.Meter("security")
	tokenMeter := inst.Meter("token")
	clientMeter := inst.Meter("client")

	var err error
	m.FormValidationsTotal, err = pipelineMeter.Int64Counter(
		"formgate.form.validations.total",
		metric.WithDescription("Total number of form submissions validated"),
		metric.WithUnit("{submission}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create form.validations.total counter: %w", err)
	}

	m.RateLimitDeniedTotal, err = securityMeter.Int64Counter(
		"formgate.ratelimit.denied.total",
		metric.WithDescription("Number of requests denied by the rate limiter"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.denied.total counter: %w", err)
	}

	m.SanitizationRejectedTotal, err = securityMeter.Int64Counter(
		"formgate.sanitization.rejected.total",
		metric.WithDescription("Number of fields rejected by the sanitizer"),
		metric.WithUnit("{field}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sanitization.rejected.total counter: %w", err)
	}

	m.CSRFFailuresTotal, err = securityMeter.Int64Counter(
		"formgate.csrf.failures.total",
		metric.WithDescription("Number of CSRF validation failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create csrf.failures.total counter: %w", err)
	}

	m.TokenRefreshesTotal, err = tokenMeter.Int64Counter(
		"formgate.token.refreshes.total",
		metric.WithDescription("Number of access token refresh attempts"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshes.total counter: %w", err)
	}

	m.APIRequestsTotal, err = clientMeter.Int64Counter(
		"formgate.api.requests.total",
		metric.WithDescription("Total number of outbound API requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api.requests.total counter: %w", err)
	}

	m.APIRequestDuration, err = clientMeter.Float64Histogram(
		"formgate.api.request.duration",
		metric.WithDescription("Outbound API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api.request.duration histogram: %w", err)
	}

	return m, nil
}

// RecordFormValidation records one completed form validation pass.
func (m *Metrics) RecordFormValidation(ctx context.Context, endpoint string, valid bool) {
	if m == nil || m.FormValidationsTotal == nil {
		return
	}
	m.FormValidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrEndpoint, endpoint),
		attribute.Bool(AttrValidationValid, valid),
	))
}

// RecordRateLimitDenied records a request denied by the rate limiter.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil || m.RateLimitDeniedTotal == nil {
		return
	}
	m.RateLimitDeniedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrEndpoint, endpoint),
	))
}

// RecordSanitizationRejected records a field rejected by the sanitizer.
func (m *Metrics) RecordSanitizationRejected(ctx context.Context, field string) {
	if m == nil || m.SanitizationRejectedTotal == nil {
		return
	}
	m.SanitizationRejectedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrField, field),
	))
}

// RecordCSRFFailure records a CSRF validation failure by reason code.
func (m *Metrics) RecordCSRFFailure(ctx context.Context, reason string) {
	if m == nil || m.CSRFFailuresTotal == nil {
		return
	}
	m.CSRFFailuresTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrCSRFReason, reason),
	))
}

// RecordTokenRefresh records one token refresh attempt and its outcome.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, success bool) {
	if m == nil || m.TokenRefreshesTotal == nil {
		return
	}
	m.TokenRefreshesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool(AttrRefreshSuccess, success),
	))
}

// RecordAPIRequest records one outbound API request with its final status
// code and total elapsed time including retries.
func (m *Metrics) RecordAPIRequest(ctx context.Context, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, status),
	)
	if m.APIRequestsTotal != nil {
		m.APIRequestsTotal.Add(ctx, 1, attrs)
	}
	if m.APIRequestDuration != nil {
		m.APIRequestDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}
}
