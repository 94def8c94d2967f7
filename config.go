package formgate

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/webatelier/formgate/security"
	"github.com/webatelier/formgate/storage"
)

// EnvPrefix is the prefix for all environment variables read by FromEnv.
const EnvPrefix = "FORMGATE_"

// Config holds the pipeline configuration.
// Structured using composition for better organization and maintainability.
type Config struct {
	// Auth configures the OAuth2 client-credentials exchange.
	Auth AuthConfig `envPrefix:"AUTH_"`

	// RateLimit configures the sliding-window limiter.
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// CSRF configures the anti-forgery token store.
	CSRF CSRFConfig `envPrefix:"CSRF_"`

	// Security holds encryption and audit settings (secure by default).
	Security SecurityConfig `envPrefix:"SECURITY_"`

	// Store is the session-scoped ephemeral mirror. When nil an
	// in-memory store is used.
	Store storage.EphemeralStore `env:"-"`

	// HTTPClient is a custom HTTP client for outbound requests. If not
	// provided, per-component defaults with timeouts are used.
	HTTPClient *http.Client `env:"-"`

	// Logger for structured logging (optional, uses default if not
	// provided).
	Logger *slog.Logger `env:"-"`
}

// AuthConfig holds identity provider credentials and settings.
type AuthConfig struct {
	// TokenURL is the identity provider token endpoint (required for
	// outbound API access).
	TokenURL string `env:"TOKEN_URL"`

	// ClientID is the OAuth client ID (required).
	ClientID string `env:"CLIENT_ID"`

	// ClientSecret is the OAuth client secret (required).
	ClientSecret string `env:"CLIENT_SECRET"`

	// Scope is the space-separated scope string requested on each
	// exchange.
	Scope string `env:"SCOPE"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Disable turns off rate limiting by default. Individual calls can
	// still opt out via Options.
	Disable bool `env:"DISABLE"`

	// SweepInterval is how often stale history is pruned. It must stay
	// shorter than the smallest policy window.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"15s"`

	// Policies maps logical endpoints to their limits. Nil uses
	// security.DefaultRatePolicies.
	Policies map[string]security.RatePolicy `env:"-"`
}

// CSRFConfig holds anti-forgery token configuration.
type CSRFConfig struct {
	// Disable turns off CSRF validation by default.
	// WARNING: Weakens forgery protection. Only for non-browser callers.
	Disable bool `env:"DISABLE"`

	// TTL is how long an issued token stays valid, measured from
	// issuance with no sliding renewal.
	TTL time.Duration `env:"TTL" envDefault:"30m"`
}

// SecurityConfig holds encryption and audit settings (secure by default).
type SecurityConfig struct {
	// DisableSanitization turns off input cleaning by default.
	// WARNING: Only for callers that sanitize upstream.
	DisableSanitization bool `env:"DISABLE_SANITIZATION"`

	// EncryptionKey is the base64-encoded AES-256 key (32 bytes) for
	// credential encryption at rest. Empty disables encryption.
	// Generate with security.GenerateKey and security.KeyToBase64.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// EnableAuditLogging enables security audit logging. Sensitive
	// values are hashed before logging.
	EnableAuditLogging bool `env:"AUDIT_LOGGING"`
}

// FromEnv builds a Config from FORMGATE_-prefixed environment variables,
// loading a .env file first when one is present.
func FromEnv() (Config, error) {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, NewConfigurationError("environment", err.Error())
	}
	return cfg, nil
}

// Validate checks the configuration, returning a *ConfigurationError for
// the first problem found. Auth settings are only required when outbound
// API access is configured at all: a deployment that only validates forms
// may leave them empty.
func (c *Config) Validate() error {
	if c.Auth.TokenURL != "" {
		if c.Auth.ClientID == "" {
			return NewConfigurationError("Auth.ClientID", "required when Auth.TokenURL is set")
		}
		if c.Auth.ClientSecret == "" {
			return NewConfigurationError("Auth.ClientSecret", "required when Auth.TokenURL is set")
		}
	}

	if c.CSRF.TTL < 0 {
		return NewConfigurationError("CSRF.TTL", "must not be negative")
	}
	if c.RateLimit.SweepInterval < 0 {
		return NewConfigurationError("RateLimit.SweepInterval", "must not be negative")
	}

	for endpoint, policy := range c.RateLimit.Policies {
		if policy.MaxRequests <= 0 {
			return NewConfigurationError("RateLimit.Policies", "policy for "+endpoint+" has non-positive MaxRequests")
		}
		if policy.Window <= 0 {
			return NewConfigurationError("RateLimit.Policies", "policy for "+endpoint+" has non-positive Window")
		}
		if c.RateLimit.SweepInterval >= policy.Window {
			return NewConfigurationError("RateLimit.SweepInterval", "must be shorter than the window for "+endpoint)
		}
	}

	if c.Security.EncryptionKey != "" {
		if _, err := security.KeyFromBase64(c.Security.EncryptionKey); err != nil {
			return NewConfigurationError("Security.EncryptionKey", err.Error())
		}
	}

	return nil
}
