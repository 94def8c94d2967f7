package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period applied to
	// expiry checks. It prevents false expiration errors caused by time
	// synchronization drift between this process, the identity provider,
	// and the downstream API.
	//
	// Trade-off: a credential can be used up to 5 seconds beyond its true
	// expiration. For high-security deployments the grace period can be
	// reduced or disabled via the WithGracePeriod variants.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks whether expiresAt has passed, with the default clock
// skew grace period. A zero expiresAt means "never expires".
func IsExpired(expiresAt, now time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, now, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks whether expiresAt has passed with a custom
// grace period. The instant is only considered expired once it has been
// expired for longer than the grace period.
func IsExpiredWithGracePeriod(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(gracePeriod))
}

// ExpiresWithin reports whether expiresAt falls inside the next threshold
// duration measured from now. Used to refresh credentials proactively
// instead of racing their expiry.
func ExpiresWithin(expiresAt, now time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(threshold).After(expiresAt)
}
