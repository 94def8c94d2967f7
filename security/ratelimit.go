package security

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateLimitError is a client-side throttle decision surfaced as an error,
// used on paths that guard outbound calls rather than user-facing form
// submission.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
	Blocked    bool
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Endpoint, e.RetryAfter)
}

const (
	// DefaultMaxRequests is the fallback request budget per window for
	// endpoints without an explicit policy.
	DefaultMaxRequests = 10

	// DefaultWindow is the fallback sliding window duration.
	DefaultWindow = time.Minute

	// DefaultSweepInterval is how often the housekeeping sweep runs. It
	// must stay strictly shorter than any configured window so pruning
	// never affects correctness.
	DefaultSweepInterval = 15 * time.Second

	// retentionFactor bounds how long request history is kept relative to
	// the endpoint's window. History beyond window*retentionFactor can
	// never influence a decision and is purged.
	retentionFactor = 2
)

// RatePolicy describes the limit applied to one logical endpoint.
type RatePolicy struct {
	// MaxRequests is the number of counted requests allowed per Window.
	MaxRequests int

	// Window is the sliding time window requests are counted in.
	Window time.Duration

	// BlockDuration, when non-zero, punitively blocks the endpoint for
	// this long once the limit is exceeded. When zero the endpoint is
	// simply denied until the window rolls.
	BlockDuration time.Duration

	// SkipSuccessfulRequests excludes successful requests from counting,
	// throttling only failures (useful for auth endpoints).
	SkipSuccessfulRequests bool

	// SkipFailedRequests excludes failed requests from counting.
	SkipFailedRequests bool
}

// DefaultRatePolicies returns the per-endpoint policies used when none are
// configured: a small burst for calendar/API calls, a stricter budget for
// form submissions, and a rare, long-blocking budget for token calls.
func DefaultRatePolicies() map[string]RatePolicy {
	return map[string]RatePolicy{
		"calendar": {
			MaxRequests:   10,
			Window:        time.Minute,
			BlockDuration: 5 * time.Minute,
		},
		"contact-form": {
			MaxRequests:   3,
			Window:        time.Minute,
			BlockDuration: 2 * time.Minute,
		},
		"auth": {
			MaxRequests:            5,
			Window:                 5 * time.Minute,
			BlockDuration:          15 * time.Minute,
			SkipSuccessfulRequests: true,
		},
	}
}

// Decision reports the outcome of a rate limit check.
type Decision struct {
	// Allowed is true when the request may proceed.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time

	// RetryAfter is how long the caller should wait before retrying.
	// Only set when Allowed is false.
	RetryAfter time.Duration

	// Blocked is true when the denial came from a punitive block rather
	// than plain window counting.
	Blocked bool
}

// requestRecord is one observed request outcome.
type requestRecord struct {
	at      time.Time
	success bool
}

// endpointWindow tracks request history and block state for one endpoint.
type endpointWindow struct {
	records      []requestRecord
	blockedUntil time.Time // zero when not blocked
	lastAccess   time.Time
}

// SlidingWindowLimiter tracks request attempts per logical endpoint in a
// sliding time window, blocking bursts and punitively extending blocking on
// repeated violation.
//
// Check and Record are deliberately separate calls: a caller checks before
// acting and records after the real outcome is known, so success/failure
// inclusion policies reflect actual call results, not intents. Both
// operations mutate state synchronously under one lock, so two concurrent
// callers can never both observe "allowed" for the final slot and then
// both record.
type SlidingWindowLimiter struct {
	mu       sync.Mutex
	windows  map[string]*endpointWindow
	policies map[string]RatePolicy
	fallback RatePolicy

	logger        *slog.Logger
	auditor       *Auditor
	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once

	now func() time.Time

	// Statistics
	totalAllowed int64
	totalDenied  int64
	totalBlocks  int64
	totalSweeps  int64
}

// NewSlidingWindowLimiter creates a limiter with the default per-endpoint
// policies and sweep interval.
func NewSlidingWindowLimiter(logger *slog.Logger) *SlidingWindowLimiter {
	return NewSlidingWindowLimiterWithConfig(DefaultRatePolicies(), DefaultSweepInterval, logger)
}

// NewSlidingWindowLimiterWithConfig creates a limiter with custom policies.
// Endpoints without a policy fall back to DefaultMaxRequests per
// DefaultWindow with no punitive blocking.
func NewSlidingWindowLimiterWithConfig(policies map[string]RatePolicy, sweepInterval time.Duration, logger *slog.Logger) *SlidingWindowLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if policies == nil {
		policies = DefaultRatePolicies()
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	l := &SlidingWindowLimiter{
		windows:  make(map[string]*endpointWindow),
		policies: policies,
		fallback: RatePolicy{
			MaxRequests: DefaultMaxRequests,
			Window:      DefaultWindow,
		},
		logger:        logger,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		now:           time.Now,
	}

	go l.sweepLoop()

	return l
}

// SetAuditor attaches a security auditor that receives block events.
func (l *SlidingWindowLimiter) SetAuditor(a *Auditor) {
	l.mu.Lock()
	l.auditor = a
	l.mu.Unlock()
}

// policyFor returns the policy for an endpoint, falling back to defaults.
func (l *SlidingWindowLimiter) policyFor(endpoint string) RatePolicy {
	if p, ok := l.policies[endpoint]; ok {
		return p
	}
	return l.fallback
}

// Check evaluates whether a request to endpoint is currently allowed under
// its configured policy. It never consumes budget; pair it with Record.
func (l *SlidingWindowLimiter) Check(endpoint string) Decision {
	return l.CheckWithPolicy(endpoint, l.policyFor(endpoint))
}

// CheckWithPolicy evaluates a request against an explicit policy, letting a
// call site override the configured one.
func (l *SlidingWindowLimiter) CheckWithPolicy(endpoint string, policy RatePolicy) Decision {
	if policy.MaxRequests <= 0 {
		policy.MaxRequests = DefaultMaxRequests
	}
	if policy.Window <= 0 {
		policy.Window = DefaultWindow
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.window(endpoint, now)

	// A punitive block dominates window counting until it lapses.
	if !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			retryAfter := w.blockedUntil.Sub(now)
			l.totalDenied++
			return Decision{
				Allowed:    false,
				Remaining:  0,
				ResetAt:    w.blockedUntil,
				RetryAfter: retryAfter,
				Blocked:    true,
			}
		}
		w.blockedUntil = time.Time{}
	}

	count, oldest := countInWindow(w.records, now.Add(-policy.Window), policy)

	if count >= policy.MaxRequests {
		l.totalDenied++

		if policy.BlockDuration > 0 {
			w.blockedUntil = now.Add(policy.BlockDuration)
			l.totalBlocks++
			l.logger.Warn("Endpoint rate limit exceeded, blocking",
				"endpoint", endpoint,
				"requests_in_window", count,
				"max_requests", policy.MaxRequests,
				"block_duration", policy.BlockDuration)
			if l.auditor != nil {
				l.auditor.LogRateLimitExceeded(endpoint, policy.BlockDuration, true)
			}
			return Decision{
				Allowed:    false,
				Remaining:  0,
				ResetAt:    w.blockedUntil,
				RetryAfter: policy.BlockDuration,
				Blocked:    true,
			}
		}

		// No punitive block configured: deny until the window rolls.
		resetAt := oldest.Add(policy.Window)
		retryAfter := resetAt.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.logger.Debug("Endpoint rate limit exceeded",
			"endpoint", endpoint,
			"requests_in_window", count,
			"max_requests", policy.MaxRequests)
		if l.auditor != nil {
			l.auditor.LogRateLimitExceeded(endpoint, retryAfter, false)
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: retryAfter,
		}
	}

	l.totalAllowed++
	resetAt := now.Add(policy.Window)
	if count > 0 {
		resetAt = oldest.Add(policy.Window)
	}
	return Decision{
		Allowed:   true,
		Remaining: policy.MaxRequests - count,
		ResetAt:   resetAt,
	}
}

// Record appends a request outcome to the endpoint's history. It does not
// itself enforce limits.
func (l *SlidingWindowLimiter) Record(endpoint string, success bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.window(endpoint, now)
	w.records = append(w.records, requestRecord{at: now, success: success})
}

// window returns the state for an endpoint, creating it on first use.
// Must be called with the mutex held.
func (l *SlidingWindowLimiter) window(endpoint string, now time.Time) *endpointWindow {
	w, ok := l.windows[endpoint]
	if !ok {
		w = &endpointWindow{}
		l.windows[endpoint] = w
	}
	w.lastAccess = now
	return w
}

// countInWindow counts records at or after windowStart that match the
// policy's inclusion rules, returning the count and the timestamp of the
// oldest counted record.
func countInWindow(records []requestRecord, windowStart time.Time, policy RatePolicy) (int, time.Time) {
	count := 0
	var oldest time.Time
	for _, r := range records {
		if r.at.Before(windowStart) {
			continue
		}
		if r.success && policy.SkipSuccessfulRequests {
			continue
		}
		if !r.success && policy.SkipFailedRequests {
			continue
		}
		if count == 0 || r.at.Before(oldest) {
			oldest = r.at
		}
		count++
	}
	return count, oldest
}

// Reset clears history and any block for one endpoint. Used on logout and
// in tests.
func (l *SlidingWindowLimiter) Reset(endpoint string) {
	l.mu.Lock()
	delete(l.windows, endpoint)
	l.mu.Unlock()
}

// ResetAll clears all history and blocks.
func (l *SlidingWindowLimiter) ResetAll() {
	l.mu.Lock()
	l.windows = make(map[string]*endpointWindow)
	l.mu.Unlock()
}

// sweepLoop periodically prunes stale history and expired blocks.
func (l *SlidingWindowLimiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.stopSweep:
			return
		}
	}
}

// Sweep purges history entries older than the retention horizon and clears
// expired blocks. Endpoints with no remaining state are dropped entirely.
// Pruning only removes records that can no longer influence any decision,
// so the sweep never bypasses correctness.
func (l *SlidingWindowLimiter) Sweep() {
	now := l.now()
	removed := 0

	l.mu.Lock()
	for endpoint, w := range l.windows {
		policy := l.policyFor(endpoint)
		if policy.Window <= 0 {
			policy.Window = DefaultWindow
		}
		horizon := now.Add(-policy.Window * retentionFactor)

		n := 0
		for _, r := range w.records {
			if r.at.After(horizon) {
				w.records[n] = r
				n++
			} else {
				removed++
			}
		}
		w.records = w.records[:n]

		if !w.blockedUntil.IsZero() && now.After(w.blockedUntil) {
			w.blockedUntil = time.Time{}
		}

		if len(w.records) == 0 && w.blockedUntil.IsZero() {
			delete(l.windows, endpoint)
		}
	}
	l.totalSweeps++
	remaining := len(l.windows)
	l.mu.Unlock()

	if removed > 0 {
		l.logger.Debug("Rate limiter sweep completed",
			"removed_records", removed,
			"tracked_endpoints", remaining)
	}
}

// Stop gracefully stops the sweep goroutine.
// Safe to call multiple times concurrently.
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

// LimiterStats holds limiter statistics for monitoring.
type LimiterStats struct {
	TrackedEndpoints int   // Current number of endpoints with state
	TotalAllowed     int64 // Total checks that passed
	TotalDenied      int64 // Total checks that were denied
	TotalBlocks      int64 // Total punitive blocks installed
	TotalSweeps      int64 // Total housekeeping sweeps
}

// GetStats returns current limiter statistics for monitoring and alerting.
func (l *SlidingWindowLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return LimiterStats{
		TrackedEndpoints: len(l.windows),
		TotalAllowed:     l.totalAllowed,
		TotalDenied:      l.totalDenied,
		TotalBlocks:      l.totalBlocks,
		TotalSweeps:      l.totalSweeps,
	}
}
