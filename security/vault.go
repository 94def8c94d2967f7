package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	"github.com/webatelier/formgate/storage"
)

// Vault encrypts small secrets for ephemeral storage using AES-256-GCM and
// generates and validates credential strings. It is the only component that
// touches raw key material.
type Vault struct {
	key     []byte
	enabled bool
}

// NewVault creates a new credential vault.
// If key is nil or empty, encryption is disabled and values pass through
// unchanged. The key must be exactly 32 bytes for AES-256.
func NewVault(key []byte) (*Vault, error) {
	if len(key) == 0 {
		return &Vault{enabled: false}, nil
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes for AES-256, got %d", len(key))
	}

	return &Vault{
		key:     key,
		enabled: true,
	}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM.
// Returns base64-encoded ciphertext in the storage format [nonce][ciphertext].
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if !v.enabled {
		return plaintext, nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext produced by Encrypt.
func (v *Vault) Decrypt(encoded string) (string, error) {
	if !v.enabled {
		return encoded, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// IsEnabled returns true if encryption is enabled.
func (v *Vault) IsEnabled() bool {
	return v.enabled
}

// Seal encrypts a secret and stores it under key in the ephemeral store.
// The mirror survives a page reload within one browsing session but never
// holds the plaintext when encryption is enabled.
func (v *Vault) Seal(ctx context.Context, store storage.EphemeralStore, key, secret string) error {
	encrypted, err := v.Encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	return store.Set(ctx, key, encrypted, 0)
}

// Open retrieves and decrypts a secret previously stored with Seal.
func (v *Vault) Open(ctx context.Context, store storage.EphemeralStore, key string) (string, error) {
	encrypted, err := store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plaintext, err := v.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", key, err)
	}
	return plaintext, nil
}

// GenerateCredential generates a random URL-safe credential string with
// TokenEntropyBytes of entropy.
func GenerateCredential() string {
	return GenerateToken()
}

// HashCredential hashes a credential for storage using bcrypt.
// Only the hash should ever be persisted.
func HashCredential(credential string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential: %w", err)
	}
	return string(hash), nil
}

// VerifyCredential validates a credential against its bcrypt hash in
// constant time. Returns nil on match.
func VerifyCredential(hash, credential string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)); err != nil {
		return fmt.Errorf("credential mismatch: %w", err)
	}
	return nil
}

// GenerateKey generates a new 32-byte encryption key for AES-256.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// KeyToBase64 encodes an encryption key to base64.
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
