package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span and metric attribute keys.
//
// SECURITY WARNING: Never record actual sensitive values (access tokens,
// CSRF tokens, client secrets, raw form content) in traces or metrics.
// Only record metadata such as endpoints, reason codes, and outcomes.
// Traces are persisted, replicated, and read by wider audiences than
// production systems.
const (
	// Pipeline attributes
	AttrEndpoint        = "formgate.endpoint"         // Logical endpoint name
	AttrValidationValid = "formgate.validation.valid" // Whether the submission passed
	AttrField           = "formgate.field"            // Form field name (non-content)

	// Security attributes
	AttrCSRFReason = "formgate.csrf.reason" // CSRF failure reason code

	// Token attributes
	AttrRefreshSuccess = "formgate.token.refresh_success" // Refresh outcome (boolean)

	// HTTP attributes
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPMethod     = "http.method"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}
