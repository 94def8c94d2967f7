package security

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webatelier/formgate/storage"
)

const (
	// DefaultCSRFTokenTTL is how long an anti-forgery token stays valid,
	// measured from issuance. There is no sliding renewal: a long-idle
	// form must be forced to refresh before resubmission.
	DefaultCSRFTokenTTL = 30 * time.Minute

	// Mirror keys in the ephemeral session store.
	mirrorTokenKey       = "formgate.csrf_token"
	mirrorSessionKey     = "formgate.session_id"
	mirrorFingerprintKey = "formgate.fingerprint_key"
)

// CSRF validation failure reasons.
const (
	CSRFReasonMissing         = "token_missing"
	CSRFReasonMismatch        = "token_mismatch"
	CSRFReasonExpired         = "token_expired"
	CSRFReasonSessionMismatch = "session_mismatch"
)

// CSRFToken is an anti-forgery credential bound to one session.
type CSRFToken struct {
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	SessionID string    `json:"session_id"`
}

// CSRFValidation reports the outcome of validating a submitted token.
type CSRFValidation struct {
	Valid bool

	// Reason is one of the CSRFReason* constants when Valid is false.
	Reason string

	// NewToken carries a freshly issued replacement when the submitted
	// token had expired, so the caller can re-embed it immediately.
	NewToken *CSRFToken
}

// CSRFStore issues, persists, and validates a session-scoped anti-forgery
// token with expiry. The current token is mirrored into the ephemeral
// session store so it survives a page reload; the in-memory copy is the
// source of truth on conflict.
type CSRFStore struct {
	mu        sync.Mutex
	token     *CSRFToken
	sessionID string

	// fingerprintKey is the per-session HMAC key for form fingerprints.
	fingerprintKey []byte

	mirror  storage.EphemeralStore
	ttl     time.Duration
	logger  *slog.Logger
	auditor *Auditor

	now func() time.Time

	// Statistics
	totalIssued   int64
	totalValid    int64
	totalRejected int64
}

// NewCSRFStore creates a CSRF token store with the default TTL. The mirror
// may be nil, in which case tokens live only in process memory.
func NewCSRFStore(mirror storage.EphemeralStore, logger *slog.Logger) *CSRFStore {
	return NewCSRFStoreWithTTL(mirror, DefaultCSRFTokenTTL, logger)
}

// NewCSRFStoreWithTTL creates a CSRF token store with a custom TTL.
func NewCSRFStoreWithTTL(mirror storage.EphemeralStore, ttl time.Duration, logger *slog.Logger) *CSRFStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultCSRFTokenTTL
	}
	return &CSRFStore{
		mirror: mirror,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SetAuditor attaches a security auditor that receives validation failures.
func (s *CSRFStore) SetAuditor(a *Auditor) {
	s.mu.Lock()
	s.auditor = a
	s.mu.Unlock()
}

// Current returns the active token for the session, loading it from the
// mirror if present and unexpired, and generating a fresh one otherwise.
func (s *CSRFStore) Current(ctx context.Context) CSRFToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx)
}

// currentLocked implements Current. Must be called with the mutex held.
func (s *CSRFStore) currentLocked(ctx context.Context) CSRFToken {
	now := s.now()

	if s.token != nil && !IsExpired(s.token.IssuedAt.Add(s.ttl), now) {
		return *s.token
	}

	// Try the mirror before minting: the in-memory copy is lost on
	// process restart but the session may still hold a live token.
	if s.token == nil {
		if tok := s.loadMirrored(ctx); tok != nil && !IsExpired(tok.IssuedAt.Add(s.ttl), now) {
			s.token = tok
			s.sessionID = tok.SessionID
			return *tok
		}
	}

	return s.issueLocked(ctx)
}

// issueLocked mints and mirrors a new token. Must be called with the mutex
// held.
func (s *CSRFStore) issueLocked(ctx context.Context) CSRFToken {
	token := CSRFToken{
		Value:     GenerateToken(),
		IssuedAt:  s.now(),
		SessionID: s.sessionIDLocked(ctx),
	}
	s.token = &token
	s.totalIssued++

	s.mirrorToken(ctx, token)

	s.logger.Debug("Issued CSRF token",
		"session_hash", HashForLogging(token.SessionID),
		"ttl", s.ttl)

	return token
}

// Validate checks a submitted token against the current one. Only an exact
// value match on an unexpired token bound to the current session passes.
func (s *CSRFStore) Validate(ctx context.Context, submitted string) CSRFValidation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if submitted == "" {
		s.totalRejected++
		s.auditFailure(CSRFReasonMissing)
		fresh := s.issueLocked(ctx)
		return CSRFValidation{Valid: false, Reason: CSRFReasonMissing, NewToken: &fresh}
	}

	// Inspect the stored token as-is. Refreshing it here would mask an
	// expired submission as a mismatch.
	stored := s.token
	if stored == nil {
		stored = s.loadMirrored(ctx)
		if stored != nil {
			s.token = stored
			if s.sessionID == "" {
				s.sessionID = stored.SessionID
			}
		}
	}

	// Expiry is measured from issuance, not last use. A missing stored
	// token means the session went stale; both force a fresh token.
	if stored == nil || IsExpired(stored.IssuedAt.Add(s.ttl), now) {
		s.totalRejected++
		s.auditFailure(CSRFReasonExpired)
		s.token = nil
		fresh := s.issueLocked(ctx)
		return CSRFValidation{Valid: false, Reason: CSRFReasonExpired, NewToken: &fresh}
	}
	current := *stored

	if subtle.ConstantTimeCompare([]byte(submitted), []byte(current.Value)) != 1 {
		s.totalRejected++
		s.auditFailure(CSRFReasonMismatch)
		return CSRFValidation{Valid: false, Reason: CSRFReasonMismatch}
	}

	if current.SessionID != s.sessionIDLocked(ctx) {
		s.totalRejected++
		s.auditFailure(CSRFReasonSessionMismatch)
		return CSRFValidation{Valid: false, Reason: CSRFReasonSessionMismatch}
	}

	s.totalValid++
	return CSRFValidation{Valid: true}
}

// Clear removes the current token and its mirrored copy. Used on logout or
// explicit reset.
func (s *CSRFStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, mirrorTokenKey); err != nil {
			s.logger.Warn("Failed to clear mirrored CSRF token", "error", err)
		}
	}
}

// sessionIDLocked returns the session identifier, lazily generating and
// mirroring it on first use. Must be called with the mutex held.
func (s *CSRFStore) sessionIDLocked(ctx context.Context) string {
	if s.sessionID != "" {
		return s.sessionID
	}

	if s.mirror != nil {
		if id, err := s.mirror.Get(ctx, mirrorSessionKey); err == nil && id != "" {
			s.sessionID = id
			return id
		}
	}

	s.sessionID = uuid.NewString()
	if s.mirror != nil {
		if err := s.mirror.Set(ctx, mirrorSessionKey, s.sessionID, 0); err != nil {
			s.logger.Warn("Failed to mirror session identifier", "error", err)
		}
	}
	return s.sessionID
}

// FormFingerprint computes a keyed MAC over the canonicalized form fields.
// The key is random per session, so a fingerprint from one session can
// never validate in another. HMAC-SHA256 replaces the weak rolling hash a
// naive implementation might reach for: without the key an attacker cannot
// forge a fingerprint for tampered data.
func (s *CSRFStore) FormFingerprint(ctx context.Context, form map[string]string) string {
	s.mu.Lock()
	key := s.fingerprintKeyLocked(ctx)
	s.mu.Unlock()

	mac := hmac.New(sha256.New, key)

	// Canonical order so semantically equal forms always match.
	fields := make([]string, 0, len(form))
	for name := range form {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		mac.Write([]byte(name))
		mac.Write([]byte{0})
		mac.Write([]byte(form[name]))
		mac.Write([]byte{0})
	}

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyFingerprint reports whether a fingerprint matches the given form
// data for this session.
func (s *CSRFStore) VerifyFingerprint(ctx context.Context, form map[string]string, fingerprint string) bool {
	expected := s.FormFingerprint(ctx, form)
	return hmac.Equal([]byte(expected), []byte(fingerprint))
}

// fingerprintKeyLocked returns the per-session HMAC key, lazily generating
// and mirroring it. Must be called with the mutex held.
func (s *CSRFStore) fingerprintKeyLocked(ctx context.Context) []byte {
	if s.fingerprintKey != nil {
		return s.fingerprintKey
	}

	if s.mirror != nil {
		if encoded, err := s.mirror.Get(ctx, mirrorFingerprintKey); err == nil {
			if key, err := base64.RawURLEncoding.DecodeString(encoded); err == nil && len(key) == 32 {
				s.fingerprintKey = key
				return key
			}
		}
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	s.fingerprintKey = key
	if s.mirror != nil {
		if err := s.mirror.Set(ctx, mirrorFingerprintKey, base64.RawURLEncoding.EncodeToString(key), 0); err != nil {
			s.logger.Warn("Failed to mirror fingerprint key", "error", err)
		}
	}
	return key
}

// mirrorToken writes the token to the ephemeral store. Mirror failures are
// logged, never fatal: the store is a cache.
func (s *CSRFStore) mirrorToken(ctx context.Context, token CSRFToken) {
	if s.mirror == nil {
		return
	}
	encoded, err := json.Marshal(token)
	if err != nil {
		s.logger.Warn("Failed to encode CSRF token for mirroring", "error", err)
		return
	}
	if err := s.mirror.Set(ctx, mirrorTokenKey, string(encoded), s.ttl); err != nil {
		s.logger.Warn("Failed to mirror CSRF token", "error", err)
	}
}

// loadMirrored reads the mirrored token, if any. Must be called with the
// mutex held.
func (s *CSRFStore) loadMirrored(ctx context.Context) *CSRFToken {
	if s.mirror == nil {
		return nil
	}
	encoded, err := s.mirror.Get(ctx, mirrorTokenKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("Failed to read mirrored CSRF token", "error", err)
		}
		return nil
	}
	var token CSRFToken
	if err := json.Unmarshal([]byte(encoded), &token); err != nil {
		s.logger.Warn("Mirrored CSRF token is corrupt, discarding", "error", err)
		return nil
	}
	return &token
}

// auditFailure reports a validation failure to the auditor, if attached.
// Must be called with the mutex held.
func (s *CSRFStore) auditFailure(reason string) {
	if s.auditor != nil {
		s.auditor.LogCSRFFailure(s.sessionID, reason)
	}
}

// CSRFStats holds CSRF store statistics for monitoring.
type CSRFStats struct {
	TotalIssued   int64 // Tokens minted
	TotalValid    int64 // Successful validations
	TotalRejected int64 // Failed validations
}

// GetStats returns current CSRF store statistics.
func (s *CSRFStore) GetStats() CSRFStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return CSRFStats{
		TotalIssued:   s.totalIssued,
		TotalValid:    s.totalValid,
		TotalRejected: s.totalRejected,
	}
}
