package formgate

import (
	"github.com/webatelier/formgate/security"
)

// CSRFFieldName is the hidden form field carrying the anti-forgery token.
const CSRFFieldName = "_csrf"

// Options are the declarative toggles for one pipeline run. The zero value
// enables every protection; absent toggles fall back to the environment
// defaults carried by the pipeline's Config.
type Options struct {
	// DisableCSRF skips anti-forgery token validation for this call.
	DisableCSRF bool

	// DisableRateLimit skips the rate limit check for this call.
	DisableRateLimit bool

	// DisableSanitization skips input cleaning for this call.
	DisableSanitization bool

	// FieldRules overrides the sanitizer's per-field policies.
	FieldRules map[string]security.SanitizeOptions

	// RatePolicy overrides the limiter's configured policy for the
	// endpoint.
	RatePolicy *security.RatePolicy
}

// Result is the outcome of validating one form submission. The submission
// is valid iff zero errors were accumulated; warnings never block.
type Result struct {
	// Valid is true when the submission may proceed.
	Valid bool

	// Errors lists human-readable rejection reasons for the user.
	Errors []string

	// Warnings lists non-blocking findings for silent logging.
	Warnings []string

	// SanitizedData is the cleaned form record to use downstream.
	SanitizedData map[string]string

	// CSRFToken carries a freshly issued token for the caller to
	// re-embed when the submitted one was missing or expired.
	CSRFToken string

	// RateLimit carries the limiter decision when rate limiting ran.
	RateLimit *security.Decision
}

// Err converts an invalid result into a *ValidationError, or nil when the
// result is valid.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}
