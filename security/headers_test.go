package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetRequestHardeningHeaders(t *testing.T) {
	h := http.Header{}
	SetRequestHardeningHeaders(h)

	assert.Equal(t, "nosniff", h.Get(HeaderContentOptions))
	assert.Equal(t, "DENY", h.Get(HeaderFrameOptions))
	assert.Equal(t, "1; mode=block", h.Get(HeaderXSSProtection))
}

func TestSetResponseSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetResponseSecurityHeaders(w, "https://forms.example.com")

	h := w.Header()
	assert.Equal(t, "DENY", h.Get(HeaderFrameOptions))
	assert.Equal(t, "nosniff", h.Get(HeaderContentOptions))
	assert.Contains(t, h.Get("Content-Security-Policy"), "default-src 'none'")
	assert.Equal(t, "no-referrer", h.Get("Referrer-Policy"))
	assert.Contains(t, h.Get("Strict-Transport-Security"), "max-age=")
	assert.Contains(t, h.Get("Cache-Control"), "no-store")
}

func TestSetResponseSecurityHeadersNoHSTSOverHTTP(t *testing.T) {
	w := httptest.NewRecorder()
	SetResponseSecurityHeaders(w, "http://localhost:8080")

	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}
