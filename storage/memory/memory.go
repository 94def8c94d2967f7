package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/webatelier/formgate/storage"
)

const (
	// DefaultCleanupInterval is how often expired entries are swept.
	DefaultCleanupInterval = time.Minute

	// DefaultMaxEntries bounds the number of keys tracked simultaneously.
	// The store refuses new keys beyond this limit rather than grow
	// without bound under abuse.
	DefaultMaxEntries = 10000
)

// entry is a stored value with an optional absolute expiry.
type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory implementation of storage.EphemeralStore with TTL
// support and periodic cleanup of expired entries.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger

	now func() time.Time

	// Statistics
	totalExpired int64
	totalRefused int64
}

// Compile-time interface check.
var _ storage.EphemeralStore = (*Store)(nil)

// New creates a new in-memory store with default cleanup interval and
// entry limit.
func New(logger *slog.Logger) *Store {
	return NewWithConfig(DefaultMaxEntries, DefaultCleanupInterval, logger)
}

// NewWithConfig creates a new in-memory store with custom limits.
// maxEntries of 0 means unlimited (not recommended for production).
func NewWithConfig(maxEntries int, cleanupInterval time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		maxEntries = DefaultMaxEntries
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		entries:         make(map[string]entry),
		maxEntries:      maxEntries,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
		now:             time.Now,
	}

	go s.cleanupLoop()

	return s
}

// Get retrieves the value for a key. Returns storage.ErrNotFound if the
// key does not exist or has expired.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", storage.ErrNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		// Lazy expiry so reads never return stale values between sweeps.
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
			s.totalExpired++
		}
		s.mu.Unlock()
		return "", storage.ErrNotFound
	}
	return e.value, nil
}

// Set stores a value under a key with an optional TTL. Returns
// storage.ErrStoreFull when a new key is refused at capacity; existing
// keys stay writable.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.totalRefused++
		s.logger.Warn("Ephemeral store entry limit reached, refusing new key",
			"max_entries", s.maxEntries,
			"total_refused", s.totalRefused)
		return storage.ErrStoreFull
	}

	s.entries[key] = entry{value: value, expiresAt: expiresAt}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries, counting entries that expired
// but have not been swept yet.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// cleanupLoop periodically removes expired entries to prevent unbounded
// memory growth.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// Cleanup removes all expired entries.
func (s *Store) Cleanup() {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for key, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, key)
			s.totalExpired++
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("Ephemeral store cleanup completed",
			"removed", removed,
			"remaining", remaining)
	}
}

// Stop gracefully stops the cleanup goroutine.
// Safe to call multiple times concurrently.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// Stats holds store statistics for monitoring.
type Stats struct {
	CurrentEntries int   // Current number of stored keys
	MaxEntries     int   // Maximum allowed entries (0 = unlimited)
	TotalExpired   int64 // Total entries removed by expiry
	TotalRefused   int64 // Total writes refused at capacity
}

// GetStats returns current store statistics for monitoring and alerting.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		CurrentEntries: len(s.entries),
		MaxEntries:     s.maxEntries,
		TotalExpired:   s.totalExpired,
		TotalRefused:   s.totalRefused,
	}
}
