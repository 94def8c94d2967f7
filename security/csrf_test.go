package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webatelier/formgate/storage/memory"
)

func newTestCSRFStore(t *testing.T, mirror *memory.Store) (*CSRFStore, *time.Time) {
	t.Helper()

	var s *CSRFStore
	if mirror != nil {
		s = NewCSRFStore(mirror, nil)
	} else {
		s = NewCSRFStore(nil, nil)
	}

	current := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	return s, &current
}

func TestCSRFCurrentIsStable(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	first := s.Current(ctx)
	second := s.Current(ctx)

	assert.Equal(t, first.Value, second.Value)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestCSRFValidateSuccess(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	tok := s.Current(ctx)
	validation := s.Validate(ctx, tok.Value)

	assert.True(t, validation.Valid)
	assert.Empty(t, validation.Reason)
	assert.Nil(t, validation.NewToken)
}

func TestCSRFValidateMissing(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	validation := s.Validate(ctx, "")

	require.False(t, validation.Valid)
	assert.Equal(t, CSRFReasonMissing, validation.Reason)
	require.NotNil(t, validation.NewToken, "a missing token must trigger a fresh issue")
	assert.NotEmpty(t, validation.NewToken.Value)
}

func TestCSRFValidateMismatch(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	s.Current(ctx)
	validation := s.Validate(ctx, "not-the-token")

	require.False(t, validation.Valid)
	assert.Equal(t, CSRFReasonMismatch, validation.Reason)
	assert.Nil(t, validation.NewToken, "a mismatch must not rotate the token")
}

func TestCSRFValidateExpired(t *testing.T) {
	s, clock := newTestCSRFStore(t, nil)
	ctx := context.Background()

	tok := s.Current(ctx)

	// Expiry is measured from issuance with no sliding renewal, so a
	// long-idle form is forced to refresh even with the right value.
	*clock = clock.Add(31 * time.Minute)
	validation := s.Validate(ctx, tok.Value)

	require.False(t, validation.Valid)
	assert.Equal(t, CSRFReasonExpired, validation.Reason)
	require.NotNil(t, validation.NewToken)
	assert.NotEqual(t, tok.Value, validation.NewToken.Value)

	// The replacement is immediately usable.
	assert.True(t, s.Validate(ctx, validation.NewToken.Value).Valid)
}

func TestCSRFValidateSessionMismatch(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	tok := s.Current(ctx)

	// A structurally valid, unexpired token bound to another session must
	// not pass, even with the right value.
	s.mu.Lock()
	s.token.SessionID = "some-other-session"
	s.mu.Unlock()

	validation := s.Validate(ctx, tok.Value)
	require.False(t, validation.Valid)
	assert.Equal(t, CSRFReasonSessionMismatch, validation.Reason)
}

func TestCSRFExpiredTokenRotatesViaCurrent(t *testing.T) {
	s, clock := newTestCSRFStore(t, nil)
	ctx := context.Background()

	old := s.Current(ctx)
	*clock = clock.Add(DefaultCSRFTokenTTL + time.Minute)

	fresh := s.Current(ctx)
	assert.NotEqual(t, old.Value, fresh.Value)
}

func TestCSRFMirrorSurvivesRestart(t *testing.T) {
	mirror := memory.New(nil)
	defer mirror.Stop()
	ctx := context.Background()

	s1, _ := newTestCSRFStore(t, mirror)
	tok := s1.Current(ctx)

	// A new store over the same session mirror picks up the live token
	// instead of minting a new one.
	s2, _ := newTestCSRFStore(t, mirror)
	recovered := s2.Current(ctx)
	assert.Equal(t, tok.Value, recovered.Value)
	assert.Equal(t, tok.SessionID, recovered.SessionID)

	assert.True(t, s2.Validate(ctx, tok.Value).Valid)
}

func TestCSRFClear(t *testing.T) {
	mirror := memory.New(nil)
	defer mirror.Stop()
	ctx := context.Background()

	s, _ := newTestCSRFStore(t, mirror)
	old := s.Current(ctx)

	s.Clear(ctx)

	fresh := s.Current(ctx)
	assert.NotEqual(t, old.Value, fresh.Value)
}

func TestCSRFStats(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	tok := s.Current(ctx)
	s.Validate(ctx, tok.Value)
	s.Validate(ctx, "wrong")

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.TotalIssued)
	assert.Equal(t, int64(1), stats.TotalValid)
	assert.Equal(t, int64(1), stats.TotalRejected)
}

func TestFormFingerprintDeterministic(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	form := map[string]string{"nom": "Dupont", "email": "jean@example.com"}

	fp1 := s.FormFingerprint(ctx, form)
	fp2 := s.FormFingerprint(ctx, form)
	assert.Equal(t, fp1, fp2)

	assert.True(t, s.VerifyFingerprint(ctx, form, fp1))
}

func TestFormFingerprintDetectsTampering(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	form := map[string]string{"nom": "Dupont", "message": "hello"}
	fp := s.FormFingerprint(ctx, form)

	tampered := map[string]string{"nom": "Dupont", "message": "hello world"}
	assert.False(t, s.VerifyFingerprint(ctx, tampered, fp))
}

func TestFormFingerprintIsSessionScoped(t *testing.T) {
	ctx := context.Background()
	form := map[string]string{"nom": "Dupont"}

	s1, _ := newTestCSRFStore(t, nil)
	s2, _ := newTestCSRFStore(t, nil)

	// Each session derives its own random key, so a fingerprint from one
	// session never validates in another.
	fp := s1.FormFingerprint(ctx, form)
	assert.False(t, s2.VerifyFingerprint(ctx, form, fp))
}

func TestFormFingerprintFieldBoundaries(t *testing.T) {
	s, _ := newTestCSRFStore(t, nil)
	ctx := context.Background()

	// "ab"+"c" and "a"+"bc" must not collide.
	fp1 := s.FormFingerprint(ctx, map[string]string{"ab": "c"})
	fp2 := s.FormFingerprint(ctx, map[string]string{"a": "bc"})
	assert.NotEqual(t, fp1, fp2)
}
