package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/webatelier/formgate/instrumentation"
	"github.com/webatelier/formgate/internal/util"
)

const (
	// DefaultExpiryMargin is subtracted from the provider's expires_in
	// when computing the cached expiry, so a token is never used close to
	// its real expiration.
	DefaultExpiryMargin = 5 * time.Minute

	// DefaultValidityBuffer is the additional buffer applied when
	// checking whether a cached token is still usable.
	DefaultValidityBuffer = time.Minute

	// DefaultHTTPTimeout bounds the token endpoint exchange.
	DefaultHTTPTimeout = 30 * time.Second

	// maxErrorBodyBytes bounds how much of a provider error response is
	// read when building an AuthError.
	maxErrorBodyBytes = 4096
)

// Provider error codes raised by the Manager itself, alongside the codes
// the identity provider returns (invalid_client, invalid_scope, ...).
const (
	ErrorCodeInvalidTokenResponse = "invalid_token_response"
	ErrorCodeNetworkFailure       = "network_failure"
	ErrorCodeServerError          = "server_error"
)

// AuthError represents a token acquisition or parsing failure, tagged with
// the provider error code and HTTP status when available.
type AuthError struct {
	Code        string // Provider error code (e.g., "invalid_client")
	Description string // Human-readable error description
	Status      int    // HTTP status code, 0 for network-level failures
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAuthError creates a new auth error.
func NewAuthError(code, description string, status int) *AuthError {
	return &AuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Config holds the client-credentials exchange configuration.
type Config struct {
	// TokenURL is the identity provider token endpoint (required, HTTPS).
	TokenURL string

	// ClientID and ClientSecret authenticate this service (required).
	ClientID     string
	ClientSecret string

	// Scope is the space-separated scope string requested with each
	// exchange.
	Scope string

	// ExpiryMargin overrides DefaultExpiryMargin when positive.
	ExpiryMargin time.Duration

	// ValidityBuffer overrides DefaultValidityBuffer when positive.
	ValidityBuffer time.Duration

	// HTTPClient is a custom HTTP client for the exchange. If not
	// provided a client with DefaultHTTPTimeout is used; every exchange
	// must be individually time-bounded.
	HTTPClient *http.Client

	// Logger for structured logging (optional, uses default if not
	// provided).
	Logger *slog.Logger
}

// Manager acquires and caches an access token, refreshing it on demand.
// All methods are safe for concurrent use; concurrent refreshes collapse
// into one network exchange whose result every caller shares.
type Manager struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	token *oauth2.Token // expiry already margin-adjusted

	group singleflight.Group

	metrics *instrumentation.Metrics

	now func() time.Time

	// Statistics
	totalRefreshes int64
	totalFailures  int64
}

// NewManager creates a token manager. It validates the configuration
// eagerly so a misconfigured deployment fails at construction, not on the
// first form submission.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.ExpiryMargin <= 0 {
		cfg.ExpiryMargin = DefaultExpiryMargin
	}
	if cfg.ValidityBuffer <= 0 {
		cfg.ValidityBuffer = DefaultValidityBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &Manager{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// SetMetrics attaches instrumentation. Safe to leave unset.
func (m *Manager) SetMetrics(metrics *instrumentation.Metrics) {
	m.metrics = metrics
}

// AccessToken returns a cached token while it remains within its validity
// buffer, performing (or awaiting an in-flight) refresh otherwise.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.validLocked() {
		tok := m.token.AccessToken
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	return m.Refresh(ctx)
}

// Refresh performs the client-credentials exchange, deduplicating
// concurrent callers: all of them resolve to the same result, success or
// failure. The previously cached token is always cleared before the new
// one is installed, so a failed refresh never leaves a stale token behind.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh executes one exchange. Only ever called through the
// singleflight group.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	// Evict before the network call: a failed refresh must not leave a
	// stale-but-"valid" token in the cache.
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.cfg.ClientID},
		"client_secret": {m.cfg.ClientSecret},
	}
	if m.cfg.Scope != "" {
		form.Set("scope", m.cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		m.recordFailure(ctx)
		return "", NewAuthError(ErrorCodeNetworkFailure,
			fmt.Sprintf("token endpoint unreachable: %v", err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.recordFailure(ctx)
		return "", m.providerError(resp)
	}

	tok, err := m.parseTokenResponse(resp.Body)
	if err != nil {
		m.recordFailure(ctx)
		return "", err
	}

	m.mu.Lock()
	m.token = tok
	m.totalRefreshes++
	m.mu.Unlock()

	m.metrics.RecordTokenRefresh(ctx, true)

	m.logger.Debug("Access token refreshed",
		"expires_at", tok.Expiry,
		"token_type", tok.TokenType,
		"token_prefix", util.SafeTruncate(tok.AccessToken, 8))

	return tok.AccessToken, nil
}

// parseTokenResponse decodes a success body, rejecting malformed, missing,
// negative, or non-numeric fields.
func (m *Manager) parseTokenResponse(body io.Reader) (*oauth2.Token, error) {
	var payload struct {
		AccessToken string      `json:"access_token"`
		TokenType   string      `json:"token_type"`
		ExpiresIn   json.Number `json:"expires_in"`
		Scope       string      `json:"scope"`
	}

	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, NewAuthError(ErrorCodeInvalidTokenResponse,
			fmt.Sprintf("malformed token response: %v", err), http.StatusOK)
	}
	if payload.AccessToken == "" {
		return nil, NewAuthError(ErrorCodeInvalidTokenResponse,
			"token response missing access_token", http.StatusOK)
	}
	expiresIn, err := payload.ExpiresIn.Int64()
	if err != nil {
		return nil, NewAuthError(ErrorCodeInvalidTokenResponse,
			fmt.Sprintf("token response has non-numeric expires_in %q", payload.ExpiresIn), http.StatusOK)
	}
	if expiresIn <= 0 {
		return nil, NewAuthError(ErrorCodeInvalidTokenResponse,
			fmt.Sprintf("token response has non-positive expires_in %d", expiresIn), http.StatusOK)
	}

	tokenType := payload.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &oauth2.Token{
		AccessToken: payload.AccessToken,
		TokenType:   tokenType,
		Expiry:      m.now().Add(time.Duration(expiresIn)*time.Second - m.cfg.ExpiryMargin),
	}, nil
}

// providerError builds an AuthError from a non-2xx provider response.
func (m *Manager) providerError(resp *http.Response) *AuthError {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error == "" {
		return NewAuthError(ErrorCodeServerError,
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), resp.StatusCode)
	}

	m.logger.Warn("Token refresh rejected by provider",
		"provider_code", payload.Error,
		"status", resp.StatusCode)

	return NewAuthError(payload.Error, payload.ErrorDescription, resp.StatusCode)
}

// Valid reports whether a token is cached and stays usable beyond the
// validity buffer.
func (m *Manager) Valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked()
}

// validLocked implements Valid. Must be called with the mutex held.
func (m *Manager) validLocked() bool {
	if m.token == nil || m.token.AccessToken == "" {
		return false
	}
	return m.now().Before(m.token.Expiry.Add(-m.cfg.ValidityBuffer))
}

// Clear evicts the cached token. Any in-flight refresh still completes and
// installs its result; Clear only affects the current cache entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// recordFailure bumps the failure counter.
func (m *Manager) recordFailure(ctx context.Context) {
	m.mu.Lock()
	m.totalFailures++
	m.mu.Unlock()
	m.metrics.RecordTokenRefresh(ctx, false)
}

// Stats holds token manager statistics for monitoring.
type Stats struct {
	TotalRefreshes int64 // Successful exchanges
	TotalFailures  int64 // Failed exchanges
	HasToken       bool  // Whether a token is currently cached
}

// GetStats returns current manager statistics.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		TotalRefreshes: m.totalRefreshes,
		TotalFailures:  m.totalFailures,
		HasToken:       m.token != nil,
	}
}

// TokenSource adapts the manager to golang.org/x/oauth2.TokenSource so it
// can plug into any client built on the oauth2 ecosystem.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

// Token implements oauth2.TokenSource.
func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	if _, err := s.m.AccessToken(s.ctx); err != nil {
		return nil, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.token == nil {
		return nil, NewAuthError(ErrorCodeInvalidTokenResponse, "token evicted during acquisition", 0)
	}
	tok := *s.m.token
	return &tok, nil
}
