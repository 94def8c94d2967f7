package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventRateLimitBlocked     = "rate_limit_blocked"
	EventCSRFFailure          = "csrf_validation_failed"
	EventSanitizationRejected = "sanitization_rejected"
	EventTokenRefreshed       = "token_refreshed"
	EventTokenRefreshFailed   = "token_refresh_failed"
	EventCredentialAccess     = "credential_access"
)

// Auditor handles security event logging with PII protection. Sensitive
// values are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	Endpoint  string
	SessionID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed session identity.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"endpoint", event.Endpoint,
		"session_hash", HashForLogging(event.SessionID),
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogRateLimitExceeded logs a client-side throttle decision.
func (a *Auditor) LogRateLimitExceeded(endpoint string, retryAfter time.Duration, blocked bool) {
	eventType := EventRateLimitExceeded
	if blocked {
		eventType = EventRateLimitBlocked
	}
	a.LogEvent(Event{
		Type:     eventType,
		Endpoint: endpoint,
		Details: map[string]any{
			"retry_after": retryAfter.String(),
		},
	})
}

// LogCSRFFailure logs a failed anti-forgery token validation.
func (a *Auditor) LogCSRFFailure(sessionID string, reason string) {
	a.LogEvent(Event{
		Type:      EventCSRFFailure,
		SessionID: sessionID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogSanitizationRejected logs an input that was rejected after cleaning.
func (a *Auditor) LogSanitizationRejected(field string, reasons []string) {
	a.LogEvent(Event{
		Type: EventSanitizationRejected,
		Details: map[string]any{
			"field":   field,
			"reasons": reasons,
		},
	})
}

// LogTokenRefresh logs the outcome of an access token refresh.
func (a *Auditor) LogTokenRefresh(success bool, providerCode string) {
	eventType := EventTokenRefreshed
	details := map[string]any{}
	if !success {
		eventType = EventTokenRefreshFailed
		details["provider_code"] = providerCode
	}
	a.LogEvent(Event{
		Type:    eventType,
		Details: details,
	})
}

// HashForLogging creates a truncated SHA-256 hash of sensitive data so that
// identifiers can be correlated in logs without exposing the value itself.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
