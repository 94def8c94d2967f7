package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webatelier/formgate/storage/memory"
)

func TestVaultRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	v, err := NewVault(key)
	require.NoError(t, err)
	require.True(t, v.IsEnabled())

	encrypted, err := v.Encrypt("sensitive-credential")
	require.NoError(t, err)
	assert.NotEqual(t, "sensitive-credential", encrypted)

	decrypted, err := v.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sensitive-credential", decrypted)
}

func TestVaultDisabledPassthrough(t *testing.T) {
	v, err := NewVault(nil)
	require.NoError(t, err)
	assert.False(t, v.IsEnabled())

	encrypted, err := v.Encrypt("plaintext")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", encrypted)

	decrypted, err := v.Decrypt("plaintext")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", decrypted)
}

func TestVaultRejectsBadKeySize(t *testing.T) {
	_, err := NewVault([]byte("too-short"))
	assert.Error(t, err)
}

func TestVaultDecryptWithWrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	v1, err := NewVault(key1)
	require.NoError(t, err)
	v2, err := NewVault(key2)
	require.NoError(t, err)

	encrypted, err := v1.Encrypt("secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestVaultDecryptRejectsTampering(t *testing.T) {
	key, _ := GenerateKey()
	v, err := NewVault(key)
	require.NoError(t, err)

	_, err = v.Decrypt("not-base64!!!")
	assert.Error(t, err)

	_, err = v.Decrypt("c2hvcnQ=") // valid base64, shorter than a nonce
	assert.Error(t, err)
}

func TestVaultSealAndOpen(t *testing.T) {
	key, _ := GenerateKey()
	v, err := NewVault(key)
	require.NoError(t, err)

	store := memory.New(nil)
	defer store.Stop()
	ctx := context.Background()

	require.NoError(t, v.Seal(ctx, store, "api_secret", "hunter2"))

	// The mirror must never see the plaintext when encryption is on.
	raw, err := store.Get(ctx, "api_secret")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", raw)

	opened, err := v.Open(ctx, store, "api_secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened)
}

func TestCredentialHashing(t *testing.T) {
	credential := GenerateCredential()
	require.NotEmpty(t, credential)

	hash, err := HashCredential(credential)
	require.NoError(t, err)
	assert.NotEqual(t, credential, hash)

	assert.NoError(t, VerifyCredential(hash, credential))
	assert.Error(t, VerifyCredential(hash, "wrong-credential"))
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, 32)

	encoded := KeyToBase64(key)
	decoded, err := KeyFromBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = KeyFromBase64("not base64")
	assert.Error(t, err)

	_, err = KeyFromBase64("c2hvcnQ=")
	assert.Error(t, err)
}
