package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// TokenCrypto provides the primitive operations every token flow builds on:
// random token generation, one-way hashing for tokens compared at rest, and
// reversible AES-256-GCM encryption for the TOTP secret, which must be
// recovered to verify codes.
//
// Key material is process-wide configuration loaded once at startup. An absent
// key is a fatal startup condition; silently generating an ephemeral key would
// break decryption across instances and restarts.
type TokenCrypto struct {
	key []byte // 32-byte AES-256 key
}

// NewTokenCrypto creates a TokenCrypto. key must be exactly 32 bytes.
func NewTokenCrypto(key []byte) (*TokenCrypto, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}
	return &TokenCrypto{key: key}, nil
}

// RandomToken returns byteLength bytes of cryptographically secure randomness,
// hex encoded. 16 bytes or more makes collisions negligible.
func (tc *TokenCrypto) RandomToken(byteLength int) (string, error) {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hex digest of a raw token. Inputs are
// high-entropy random tokens, so no salt is required; equal inputs must
// produce equal digests so tokens can be looked up by hash.
func (tc *TokenCrypto) HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Encrypt encrypts plaintext with AES-256-GCM using a fresh random nonce.
// Returns (ciphertext, nonce).
func (tc *TokenCrypto) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	block, err := aes.NewCipher(tc.key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts an AES-256-GCM ciphertext. Malformed or tampered input
// fails with an error.
func (tc *TokenCrypto) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(tc.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
