package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := GenerateToken()
		assert.False(t, seen[token], "generated a duplicate token")
		seen[token] = true
	}
}

func TestGenerateTokenLength(t *testing.T) {
	// 32 bytes of entropy encode to 43 base64url characters.
	assert.Len(t, GenerateToken(), 43)
}

func TestGenerateRequestIDIsValid(t *testing.T) {
	for i := 0; i < 10; i++ {
		id := GenerateRequestID()
		assert.True(t, IsValidRequestID(id), "generated ID %q failed its own validation", id)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"simple", "abc123", true},
		{"with separators", "req_id-42", true},
		{"empty", "", false},
		{"crlf injection", "abc\r\nSet-Cookie: x", false},
		{"space", "abc def", false},
		{"too long", string(make([]byte, 129)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidRequestID(tt.id))
		})
	}
}
