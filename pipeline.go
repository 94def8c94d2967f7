package formgate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/webatelier/formgate/instrumentation"
	"github.com/webatelier/formgate/security"
	"github.com/webatelier/formgate/storage"
	"github.com/webatelier/formgate/storage/memory"
)

const (
	// absoluteFieldCeiling is the generous upper bound beyond which any
	// field length is flagged, independent of per-field policies.
	absoluteFieldCeiling = 10000
)

// Heuristic patterns applied to every string field after sanitization.
var (
	sqlKeywordPattern  = regexp.MustCompile(`(?i)\b(?:union\s+(?:all\s+)?select|insert\s+into|drop\s+table|delete\s+from|update\s+\w+\s+set|exec(?:ute)?\s+\w)`)
	scriptTagPattern   = regexp.MustCompile(`(?i)<\s*script\b`)
	scriptURLPattern   = regexp.MustCompile(`(?i)(?:javascript|vbscript)\s*:`)
	eventAttrPattern   = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	controlCharPattern = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
)

// Pipeline composes the sanitizer, rate limiter, CSRF store, and credential
// vault into one request-level validation pass for form submissions and
// outbound API calls. Construct it once at application start and pass it by
// reference to consumers.
type Pipeline struct {
	cfg Config

	sanitizer *security.Sanitizer
	limiter   *security.SlidingWindowLimiter
	csrf      *security.CSRFStore
	vault     *security.Vault
	auditor   *security.Auditor
	metrics   *instrumentation.Metrics

	store    storage.EphemeralStore
	ownStore *memory.Store // set when the pipeline created its own mirror
	logger   *slog.Logger
}

// New creates a pipeline from the configuration. Configuration problems
// surface here as *ConfigurationError; nothing is retried.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := cfg.Store
	var ownStore *memory.Store
	if store == nil {
		ownStore = memory.New(logger)
		store = ownStore
	}

	var key []byte
	if cfg.Security.EncryptionKey != "" {
		// Validate() already vetted the encoding.
		key, _ = security.KeyFromBase64(cfg.Security.EncryptionKey)
	}
	vault, err := security.NewVault(key)
	if err != nil {
		return nil, NewConfigurationError("Security.EncryptionKey", err.Error())
	}

	auditor := security.NewAuditor(logger, cfg.Security.EnableAuditLogging)

	limiter := security.NewSlidingWindowLimiterWithConfig(cfg.RateLimit.Policies, cfg.RateLimit.SweepInterval, logger)
	limiter.SetAuditor(auditor)

	csrf := security.NewCSRFStoreWithTTL(store, cfg.CSRF.TTL, logger)
	csrf.SetAuditor(auditor)

	return &Pipeline{
		cfg:       cfg,
		sanitizer: security.NewSanitizer(logger),
		limiter:   limiter,
		csrf:      csrf,
		vault:     vault,
		auditor:   auditor,
		store:     store,
		ownStore:  ownStore,
		logger:    logger,
	}, nil
}

// SetMetrics attaches instrumentation. Safe to leave unset; recording is a
// no-op without it.
func (p *Pipeline) SetMetrics(m *instrumentation.Metrics) {
	p.metrics = m
}

// Limiter exposes the shared rate limiter so the resilient API client can
// throttle against the same windows the pipeline checks.
func (p *Pipeline) Limiter() *security.SlidingWindowLimiter {
	return p.limiter
}

// CSRF exposes the token store for UI collaborators that need to embed the
// current token into a rendered form.
func (p *Pipeline) CSRF() *security.CSRFStore {
	return p.csrf
}

// Vault exposes the credential vault.
func (p *Pipeline) Vault() *security.Vault {
	return p.vault
}

// Close stops background housekeeping. The pipeline must not be used after
// Close.
func (p *Pipeline) Close() {
	p.limiter.Stop()
	if p.ownStore != nil {
		p.ownStore.Stop()
	}
}

// ValidateFormSubmission gates one form submission through rate limiting,
// sanitization, CSRF validation, and heuristic content checks. The UI must
// block submission whenever Valid is false, surface Errors to the user, and
// silently log Warnings.
func (p *Pipeline) ValidateFormSubmission(ctx context.Context, form map[string]string, endpoint string, opts Options) *Result {
	result := &Result{
		SanitizedData: make(map[string]string, len(form)),
	}
	for field, value := range form {
		result.SanitizedData[field] = value
	}

	// 1. Rate limiting.
	if !opts.DisableRateLimit && !p.cfg.RateLimit.Disable {
		var decision security.Decision
		if opts.RatePolicy != nil {
			decision = p.limiter.CheckWithPolicy(endpoint, *opts.RatePolicy)
		} else {
			decision = p.limiter.Check(endpoint)
		}
		result.RateLimit = &decision
		if !decision.Allowed {
			result.Errors = append(result.Errors,
				fmt.Sprintf("too many attempts, please retry in %d seconds",
					int(decision.RetryAfter.Seconds())+1))
			p.metrics.RecordRateLimitDenied(ctx, endpoint)
		}
	}

	// 2. Sanitization.
	if !opts.DisableSanitization && !p.cfg.Security.DisableSanitization {
		sanitized, reports := p.sanitizer.SanitizeForm(p.withoutCSRFField(result.SanitizedData), opts.FieldRules)
		for field, value := range sanitized {
			result.SanitizedData[field] = value
		}
		for field, report := range reports {
			validation := p.sanitizer.ValidateSanitized(report, field)
			if !validation.Valid {
				result.Errors = append(result.Errors, validation.Errors...)
				p.auditor.LogSanitizationRejected(field, report.Reasons)
				p.metrics.RecordSanitizationRejected(ctx, field)
			} else if report.Modified {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("%s: %s", field, strings.Join(report.Reasons, ", ")))
			}
		}
	}

	// 3. CSRF.
	if !opts.DisableCSRF && !p.cfg.CSRF.Disable {
		submitted := form[CSRFFieldName]
		validation := p.csrf.Validate(ctx, submitted)
		if !validation.Valid {
			result.Errors = append(result.Errors, csrfErrorMessage(validation.Reason))
			p.metrics.RecordCSRFFailure(ctx, validation.Reason)
		}
		if validation.NewToken != nil {
			result.CSRFToken = validation.NewToken.Value
		}
		delete(result.SanitizedData, CSRFFieldName)
	}

	// 4. Heuristic checks over every string field.
	for field, value := range result.SanitizedData {
		p.heuristicChecks(field, value, result)
	}

	// 5. Valid iff zero errors accumulated; warnings never block.
	result.Valid = len(result.Errors) == 0

	// Record the attempt now that the outcome is known, so skip policies
	// see real results. Denied attempts are not recorded twice.
	if !opts.DisableRateLimit && !p.cfg.RateLimit.Disable {
		if result.RateLimit == nil || result.RateLimit.Allowed {
			p.limiter.Record(endpoint, result.Valid)
		}
	}

	p.metrics.RecordFormValidation(ctx, endpoint, result.Valid)

	if !result.Valid {
		p.logger.Info("Form submission rejected",
			"endpoint", endpoint,
			"errors", len(result.Errors),
			"warnings", len(result.Warnings))
	}

	return result
}

// SecureRequest prepares an outbound request originating from a form
// submission: CSRF and XHR-marker headers when enabled, the fixed set of
// hardening headers, and a synchronous rate limit error when the endpoint
// is currently blocked. This path guards outbound calls rather than
// user-facing form submission, so a blocked endpoint is an error, not a
// result.
func (p *Pipeline) SecureRequest(ctx context.Context, req *http.Request, endpoint string, opts Options) error {
	if !opts.DisableRateLimit && !p.cfg.RateLimit.Disable {
		decision := p.limiter.Check(endpoint)
		if !decision.Allowed {
			return &security.RateLimitError{
				Endpoint:   endpoint,
				RetryAfter: decision.RetryAfter,
				Blocked:    decision.Blocked,
			}
		}
	}

	if !opts.DisableCSRF && !p.cfg.CSRF.Disable {
		tok := p.csrf.Current(ctx)
		req.Header.Set(security.HeaderCSRFToken, tok.Value)
		req.Header.Set(security.HeaderRequestedWith, security.RequestedWithXHR)
	}

	security.SetRequestHardeningHeaders(req.Header)

	return nil
}

// withoutCSRFField returns form minus the anti-forgery field, which is
// machine-generated and must not count as user input.
func (p *Pipeline) withoutCSRFField(form map[string]string) map[string]string {
	if _, ok := form[CSRFFieldName]; !ok {
		return form
	}
	filtered := make(map[string]string, len(form)-1)
	for field, value := range form {
		if field != CSRFFieldName {
			filtered[field] = value
		}
	}
	return filtered
}

// heuristicChecks applies the fixed suspicious-content checks to one field:
// injection-shaped content warns, raw control characters and oversized
// fields are handled per severity.
func (p *Pipeline) heuristicChecks(field, value string, result *Result) {
	if controlCharPattern.MatchString(value) {
		result.Errors = append(result.Errors,
			field+": contains control or binary characters")
		return
	}

	if len(value) > absoluteFieldCeiling {
		result.Warnings = append(result.Warnings,
			field+": exceeds the absolute length ceiling")
	}

	if sqlKeywordPattern.MatchString(value) {
		result.Warnings = append(result.Warnings,
			field+": contains SQL keyword patterns")
	}
	if scriptTagPattern.MatchString(value) {
		result.Warnings = append(result.Warnings,
			field+": contains a script tag")
	}
	if scriptURLPattern.MatchString(value) {
		result.Warnings = append(result.Warnings,
			field+": contains a script URL scheme")
	}
	if eventAttrPattern.MatchString(value) {
		result.Warnings = append(result.Warnings,
			field+": contains an inline event handler")
	}
}

// csrfErrorMessage maps a validation reason to a user-facing message.
// Internal reason codes are logged, never shown.
func csrfErrorMessage(reason string) string {
	switch reason {
	case security.CSRFReasonMissing:
		return "the form session is missing its security token, please resubmit"
	case security.CSRFReasonExpired:
		return "the form session expired, please resubmit"
	default:
		return "the form could not be verified, please reload the page"
	}
}
