package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or its entry has
// expired. Callers treat a missing mirror entry as "regenerate", never as
// a hard failure.
var ErrNotFound = errors.New("storage: key not found")

// ErrStoreFull is returned when a write for a new key is refused because
// the store is at capacity. It is distinct from ErrNotFound so a refused
// write is never mistaken for a miss.
var ErrStoreFull = errors.New("storage: entry limit reached")

// EphemeralStore is a session-scoped key/value store. Entries survive a
// page reload within one browsing session but not across sessions.
//
// The core only requires get/set/remove semantics; richer backends
// (browser sessionStorage bridges, Redis with session-keyed namespaces)
// can implement the same contract. The store is a cache, not an owner:
// on conflict the in-memory component state is the source of truth.
//
// All methods accept context.Context for tracing and cancellation.
type EphemeralStore interface {
	// Get retrieves the value for a key. Returns ErrNotFound if the key
	// does not exist or has expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value under a key. A non-zero ttl bounds the entry's
	// lifetime; zero means the entry lives until the session ends.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
