package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
)

const (
	// TokenEntropyBytes is the number of random bytes backing a generated
	// token. 32 bytes (256 bits) exceeds the minimum recommended for
	// anti-forgery tokens.
	TokenEntropyBytes = 32

	// RequestIDHeader is the HTTP header used to correlate outbound API
	// calls across retries and logs.
	RequestIDHeader = "X-Request-ID"
)

// requestIDPattern validates correlation IDs to prevent header injection.
// Allows alphanumeric, hyphens, underscores (1-128 chars).
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateToken generates a cryptographically secure random token encoded
// as base64url without padding. The result is safe to embed in forms,
// headers, and URLs.
//
// The function panics if the system's random number generator fails, which
// indicates a critical system-level security failure that no caller can
// meaningfully recover from.
func GenerateToken() string {
	b := make([]byte, TokenEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateRequestID generates a short random correlation ID for outbound
// requests: 16 bytes of entropy as a 22-character base64url string.
func GenerateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// IsValidRequestID reports whether a correlation ID contains only safe
// characters and is within acceptable length limits. Rejecting anything
// else prevents CRLF header injection and oversized-header abuse.
func IsValidRequestID(id string) bool {
	return requestIDPattern.MatchString(id)
}
