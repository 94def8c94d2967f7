package security

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// DefaultMaxFieldLength bounds free-text fields when no per-field
	// policy applies.
	DefaultMaxFieldLength = 1000

	// DefaultNameFieldLength bounds short identity fields (names, subjects).
	DefaultNameFieldLength = 100
)

// Patterns stripped or detected by the sanitizer. All are case-insensitive
// and tolerate whitespace where browsers do.
var (
	scriptBlockPattern  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	scriptTagPattern    = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	eventHandlerPattern = regexp.MustCompile(`(?i)\s*\bon[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)
	scriptSchemePattern = regexp.MustCompile(`(?i)(?:javascript|vbscript)\s*:`)

	// htmlEntityPattern matches an already-encoded entity so re-escaping
	// stays a no-op: sanitize(sanitize(x)) == sanitize(x).
	htmlEntityPattern = regexp.MustCompile(`^&(?:[a-zA-Z][a-zA-Z0-9]*|#[0-9]{1,7}|#x[0-9a-fA-F]{1,6});`)
)

// suspiciousPatterns must never survive sanitization. Their presence after
// cleaning is a defect to report, not to silently pass through.
var suspiciousPatterns = []string{
	"javascript:",
	"vbscript:",
	"<script",
	"<iframe",
	"<object",
	"<embed",
	"eval(",
	"expression(",
	"document.cookie",
	"onerror=",
	"onload=",
}

// Sanitization reasons, human-readable and stable for callers that count
// distinct modifications.
const (
	ReasonTrimmed         = "leading/trailing whitespace removed"
	ReasonTruncated       = "value truncated to maximum length"
	ReasonScriptRemoved   = "script block removed"
	ReasonHandlerRemoved  = "inline event handler removed"
	ReasonSchemeRemoved   = "script URL scheme removed"
	ReasonSpecialsRemoved = "special characters removed"
	ReasonHTMLEscaped     = "HTML special characters escaped"
	ReasonHTMLFiltered    = "disallowed HTML tags removed"
)

// SanitizeOptions controls how a single value is cleaned.
type SanitizeOptions struct {
	// MaxLength truncates the value when positive.
	MaxLength int

	// NoTrim disables the default leading/trailing whitespace trim.
	NoTrim bool

	// RemoveSpecialChars strips the characters <>"'& entirely instead of
	// escaping them.
	RemoveSpecialChars bool

	// AllowHTML passes the value through an allow-listed-tag HTML
	// sanitizer instead of escaping it. Only tags and attributes on the
	// allow list survive.
	AllowHTML bool

	// AllowedTags overrides the default allow list when AllowHTML is set.
	// Empty means a conservative user-generated-content policy.
	AllowedTags []string
}

// SanitizedValue is the result of cleaning one input.
type SanitizedValue struct {
	// Value is the cleaned result. It never contains raw script blocks,
	// inline event handlers, or script URL schemes.
	Value string

	// Original is the input as received.
	Original string

	// Modified is true when any step changed the value.
	Modified bool

	// Reasons lists one entry per step that changed the value.
	Reasons []string
}

// InputValidation reports whether a sanitized value is acceptable.
type InputValidation struct {
	Valid  bool
	Errors []string
}

// Sanitizer cleans untrusted string values per field-specific policy. It is
// stateless apart from its compiled HTML policies and safe for concurrent
// use.
type Sanitizer struct {
	logger *slog.Logger

	// ugcPolicy is the default allow-list policy for AllowHTML fields.
	ugcPolicy *bluemonday.Policy

	// fieldDefaults maps well-known field names to their policies.
	fieldDefaults map[string]SanitizeOptions
}

// NewSanitizer creates a sanitization engine with the default per-field
// policies: short length and no specials for identity fields, longer length
// and no HTML for free-text fields.
func NewSanitizer(logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{
		logger:    logger,
		ugcPolicy: bluemonday.UGCPolicy(),
		fieldDefaults: map[string]SanitizeOptions{
			"nom":     {MaxLength: DefaultNameFieldLength, RemoveSpecialChars: true},
			"prenom":  {MaxLength: DefaultNameFieldLength, RemoveSpecialChars: true},
			"name":    {MaxLength: DefaultNameFieldLength, RemoveSpecialChars: true},
			"email":   {MaxLength: 254},
			"phone":   {MaxLength: 30, RemoveSpecialChars: true},
			"subject": {MaxLength: 200},
			"message": {MaxLength: DefaultMaxFieldLength},
		},
	}
}

// Sanitize cleans a single untrusted value. Steps run in a fixed order:
// trim, truncate, strip script blocks, strip inline event handlers, strip
// script URL schemes, optionally remove specials, then escape or
// allow-list-filter the remainder. Escaping can expand the value past
// MaxLength again, so the bound is re-enforced on the cleaned form as the
// final step. Each step that changes the value appends a reason and sets
// Modified.
func (s *Sanitizer) Sanitize(value string, opts SanitizeOptions) SanitizedValue {
	result := SanitizedValue{
		Original: value,
		Value:    value,
	}

	apply := func(next, reason string) {
		if next != result.Value {
			result.Value = next
			result.Modified = true
			result.Reasons = append(result.Reasons, reason)
		}
	}

	if !opts.NoTrim {
		apply(strings.TrimSpace(result.Value), ReasonTrimmed)
	}

	if opts.MaxLength > 0 && len(result.Value) > opts.MaxLength {
		apply(result.Value[:opts.MaxLength], ReasonTruncated)
	}

	apply(scriptBlockPattern.ReplaceAllString(result.Value, ""), ReasonScriptRemoved)
	// Orphan open/close tags left by a truncated or malformed block.
	apply(scriptTagPattern.ReplaceAllString(result.Value, ""), ReasonScriptRemoved)

	apply(eventHandlerPattern.ReplaceAllString(result.Value, ""), ReasonHandlerRemoved)

	apply(scriptSchemePattern.ReplaceAllString(result.Value, ""), ReasonSchemeRemoved)

	if opts.RemoveSpecialChars {
		apply(strings.Map(func(r rune) rune {
			switch r {
			case '<', '>', '"', '\'', '&':
				return -1
			}
			return r
		}, result.Value), ReasonSpecialsRemoved)
	}

	var policy *bluemonday.Policy
	if opts.AllowHTML {
		policy = s.ugcPolicy
		if len(opts.AllowedTags) > 0 {
			policy = bluemonday.NewPolicy()
			policy.AllowElements(opts.AllowedTags...)
		}
		apply(policy.Sanitize(result.Value), ReasonHTMLFiltered)
	} else {
		apply(escapeHTML(result.Value), ReasonHTMLEscaped)
	}

	// Escaping and entity normalization expand the value, so the length
	// bound is enforced again on the cleaned form. The cut never splits
	// an entity or a tag, so the result re-sanitizes to itself.
	if opts.MaxLength > 0 && len(result.Value) > opts.MaxLength {
		if opts.AllowHTML {
			apply(capFilteredHTML(policy, result.Value, opts.MaxLength), ReasonTruncated)
		} else {
			apply(truncateEscaped(result.Value, opts.MaxLength), ReasonTruncated)
		}
	}

	// Reasons may repeat when two passes of the same step fire; collapse
	// to distinct entries so callers can count meaningfully.
	result.Reasons = distinct(result.Reasons)

	return result
}

// SanitizeForm applies Sanitize to every field, using perField options when
// given and the field-name-keyed defaults otherwise. It returns the cleaned
// record alongside the per-field reports.
func (s *Sanitizer) SanitizeForm(form map[string]string, perField map[string]SanitizeOptions) (map[string]string, map[string]SanitizedValue) {
	sanitized := make(map[string]string, len(form))
	reports := make(map[string]SanitizedValue, len(form))

	for field, value := range form {
		opts, ok := perField[field]
		if !ok {
			opts = s.optionsFor(field)
		}
		report := s.Sanitize(value, opts)
		sanitized[field] = report.Value
		reports[field] = report

		if report.Modified {
			s.logger.Debug("Field sanitized",
				"field", field,
				"reasons", report.Reasons)
		}
	}

	return sanitized, reports
}

// optionsFor returns the default policy for a field name.
func (s *Sanitizer) optionsFor(field string) SanitizeOptions {
	if opts, ok := s.fieldDefaults[strings.ToLower(field)]; ok {
		return opts
	}
	return SanitizeOptions{MaxLength: DefaultMaxFieldLength}
}

// ValidateSanitized flags a sanitized value as invalid when the cleaning
// rewrote it heavily (more than two distinct reasons implies an attack
// attempt rather than sloppy input) or when a suspicious pattern survived
// sanitization, which must never happen and is reported as a defect.
func (s *Sanitizer) ValidateSanitized(result SanitizedValue, field string) InputValidation {
	validation := InputValidation{Valid: true}

	if len(result.Reasons) > 2 {
		validation.Valid = false
		validation.Errors = append(validation.Errors,
			field+": input required too many corrections")
	}

	lower := strings.ToLower(result.Value)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			validation.Valid = false
			validation.Errors = append(validation.Errors,
				field+": suspicious content survived sanitization ("+pattern+")")
		}
	}

	if !validation.Valid {
		s.logger.Warn("Sanitized input rejected",
			"field", field,
			"errors", validation.Errors)
	}

	return validation
}

// escapeHTML escapes <, >, ", ' and bare & without double-encoding
// entities already present, keeping the transform idempotent.
func escapeHTML(value string) string {
	var b strings.Builder
	b.Grow(len(value))

	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&#34;")
		case '\'':
			b.WriteString("&#39;")
		case '&':
			if htmlEntityPattern.MatchString(value[i:]) {
				b.WriteByte('&')
			} else {
				b.WriteString("&amp;")
			}
		default:
			b.WriteByte(value[i])
		}
	}

	return b.String()
}

// truncateEscaped cuts an escaped value to at most max bytes without
// splitting an &...; entity or an HTML tag: a cut landing inside either
// backs off to just before it. The truncated value therefore escapes to
// itself.
func truncateEscaped(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	cut := max
	if i := strings.LastIndexByte(value[:cut], '&'); i >= 0 &&
		!strings.Contains(value[i:cut], ";") && htmlEntityPattern.MatchString(value[i:]) {
		cut = i
	}
	if i := strings.LastIndexByte(value[:cut], '<'); i >= 0 && !strings.Contains(value[i:cut], ">") {
		cut = i
	}
	return value[:cut]
}

// capFilteredHTML bounds allow-listed HTML to max bytes. The policy is
// re-applied after each cut so severed markup is repaired; repairing can
// append closing tags and overshoot the bound again, so the cut point
// shrinks by the overshoot until the repaired value fits.
func capFilteredHTML(policy *bluemonday.Policy, value string, max int) string {
	target := max
	for {
		candidate := policy.Sanitize(truncateEscaped(value, target))
		if len(candidate) <= max {
			return candidate
		}
		target -= len(candidate) - max
		if target <= 0 {
			return ""
		}
	}
}

// distinct returns the input order-preserved with duplicates removed.
func distinct(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
