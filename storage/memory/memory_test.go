package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webatelier/formgate/storage"
)

func newTestStore(t *testing.T, maxEntries int) (*Store, *time.Time) {
	t.Helper()

	s := NewWithConfig(maxEntries, time.Hour, nil)
	t.Cleanup(s.Stop)

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	return s, &current
}

func TestStoreSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", "value", 0))

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", got)

	require.NoError(t, s.Delete(ctx, "key"))
	_, err = s.Get(ctx, "key")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, s.Delete(ctx, "missing"))
}

func TestStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t, 0)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreTTLExpiry(t *testing.T) {
	s, clock := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", "v", time.Minute))
	require.NoError(t, s.Set(ctx, "forever", "v", 0))

	got, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	*clock = clock.Add(2 * time.Minute)

	// Lazy expiry on read, even before any cleanup sweep.
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestStoreOverwriteResetsTTL(t *testing.T) {
	s, clock := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "key", "v1", time.Minute))
	*clock = clock.Add(50 * time.Second)
	require.NoError(t, s.Set(ctx, "key", "v2", time.Minute))
	*clock = clock.Add(50 * time.Second)

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestStoreCapacityRefusal(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "2", 0))

	// New keys are refused at capacity, existing keys stay writable. The
	// refusal is its own sentinel so callers never mistake it for a miss.
	err := s.Set(ctx, "c", "3", 0)
	assert.ErrorIs(t, err, storage.ErrStoreFull)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, s.Set(ctx, "a", "updated", 0))

	got, _ := s.Get(ctx, "a")
	assert.Equal(t, "updated", got)
	assert.Equal(t, 2, s.Len())
}

func TestStoreCleanup(t *testing.T) {
	s, clock := newTestStore(t, 0)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "b", "2", 0))

	*clock = clock.Add(2 * time.Minute)
	s.Cleanup()

	assert.Equal(t, 1, s.Len())
	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.TotalExpired)
}

func TestStoreStats(t *testing.T) {
	s, _ := newTestStore(t, 1)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.ErrorIs(t, s.Set(ctx, "b", "2", 0), storage.ErrStoreFull)

	stats := s.GetStats()
	assert.Equal(t, 1, stats.CurrentEntries)
	assert.Equal(t, 1, stats.MaxEntries)
	assert.Equal(t, int64(1), stats.TotalRefused)
}

func TestStoreStopIdempotent(t *testing.T) {
	s := New(nil)
	s.Stop()
	s.Stop()
}
