package formgate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webatelier/formgate/security"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("FORMGATE_AUTH_TOKEN_URL", "https://idp.example.com/token")
	t.Setenv("FORMGATE_AUTH_CLIENT_ID", "client-id")
	t.Setenv("FORMGATE_AUTH_CLIENT_SECRET", "client-secret")
	t.Setenv("FORMGATE_AUTH_SCOPE", "api.read")
	t.Setenv("FORMGATE_CSRF_TTL", "45m")
	t.Setenv("FORMGATE_RATE_LIMIT_DISABLE", "true")
	t.Setenv("FORMGATE_SECURITY_AUDIT_LOGGING", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://idp.example.com/token", cfg.Auth.TokenURL)
	assert.Equal(t, "client-id", cfg.Auth.ClientID)
	assert.Equal(t, "client-secret", cfg.Auth.ClientSecret)
	assert.Equal(t, "api.read", cfg.Auth.Scope)
	assert.Equal(t, 45*time.Minute, cfg.CSRF.TTL)
	assert.True(t, cfg.RateLimit.Disable)
	assert.True(t, cfg.Security.EnableAuditLogging)

	assert.NoError(t, cfg.Validate())
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.CSRF.TTL)
	assert.Equal(t, 15*time.Second, cfg.RateLimit.SweepInterval)
	assert.False(t, cfg.RateLimit.Disable)
}

func TestConfigValidate(t *testing.T) {
	key, err := security.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "empty config is valid",
			cfg:  Config{},
		},
		{
			name: "auth not required without token URL",
			cfg:  Config{Auth: AuthConfig{ClientID: "id"}},
		},
		{
			name:    "token URL requires client ID",
			cfg:     Config{Auth: AuthConfig{TokenURL: "https://idp/token", ClientSecret: "s"}},
			wantErr: "Auth.ClientID",
		},
		{
			name:    "token URL requires client secret",
			cfg:     Config{Auth: AuthConfig{TokenURL: "https://idp/token", ClientID: "id"}},
			wantErr: "Auth.ClientSecret",
		},
		{
			name:    "negative CSRF TTL",
			cfg:     Config{CSRF: CSRFConfig{TTL: -time.Minute}},
			wantErr: "CSRF.TTL",
		},
		{
			name: "sweep interval must undercut policy windows",
			cfg: Config{
				RateLimit: RateLimitConfig{
					SweepInterval: time.Minute,
					Policies: map[string]security.RatePolicy{
						"api": {MaxRequests: 5, Window: 30 * time.Second},
					},
				},
			},
			wantErr: "RateLimit.SweepInterval",
		},
		{
			name: "policy needs positive max requests",
			cfg: Config{
				RateLimit: RateLimitConfig{
					Policies: map[string]security.RatePolicy{
						"api": {Window: time.Minute},
					},
				},
			},
			wantErr: "RateLimit.Policies",
		},
		{
			name:    "encryption key must decode to 32 bytes",
			cfg:     Config{Security: SecurityConfig{EncryptionKey: "bm90LWEta2V5"}},
			wantErr: "Security.EncryptionKey",
		},
		{
			name: "valid encryption key",
			cfg:  Config{Security: SecurityConfig{EncryptionKey: security.KeyToBase64(key)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantErr, cfgErr.Field)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Errors: []string{"first", "second"}}
	assert.Contains(t, err.Error(), "first; second")
}
