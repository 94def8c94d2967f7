package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"future expiry", now.Add(time.Hour), false},
		{"zero means never", time.Time{}, false},
		{"within grace period", now.Add(-2 * time.Second), false},
		{"past grace period", now.Add(-10 * time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(tt.expiresAt, now))
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	expiresAt := now.Add(-time.Second)

	assert.True(t, IsExpiredWithGracePeriod(expiresAt, now, 0))
	assert.False(t, IsExpiredWithGracePeriod(expiresAt, now, 5*time.Second))
}

func TestExpiresWithin(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	assert.True(t, ExpiresWithin(now.Add(30*time.Second), now, time.Minute))
	assert.False(t, ExpiresWithin(now.Add(2*time.Minute), now, time.Minute))
	assert.False(t, ExpiresWithin(time.Time{}, now, time.Minute))
}

func TestHashForLogging(t *testing.T) {
	assert.Equal(t, "<empty>", HashForLogging(""))

	h1 := HashForLogging("session-a")
	h2 := HashForLogging("session-b")
	assert.Len(t, h1, 16)
	assert.NotEqual(t, h1, h2)
	assert.NotContains(t, h1, "session")

	// Stable so log lines correlate.
	assert.Equal(t, h1, HashForLogging("session-a"))
}
