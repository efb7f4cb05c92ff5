package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// TOTPManager handles TOTP secret generation, QR provisioning, and validation
type TOTPManager struct {
	crypto *TokenCrypto
	issuer string // issuer name shown in authenticator apps
}

// NewTOTPManager creates a new TOTP manager
func NewTOTPManager(crypto *TokenCrypto, issuer string) *TOTPManager {
	return &TOTPManager{
		crypto: crypto,
		issuer: issuer,
	}
}

// GenerateSecret creates a fresh TOTP secret for an account and returns the
// encrypted secret for storage alongside the raw material for the caller:
// (encryptedSecret, nonce, rawSecret, provisioningURI, qrDataURL, error)
func (tm *TOTPManager) GenerateSecret(accountEmail string) ([]byte, []byte, string, string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountEmail,
		SecretSize:  32, // 256 bits
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, nil, "", "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, nonce, err := tm.crypto.Encrypt([]byte(key.Secret()))
	if err != nil {
		return nil, nil, "", "", "", fmt.Errorf("failed to encrypt secret: %w", err)
	}

	// Render the provisioning URI as a scannable PNG data URL
	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, nil, "", "", "", fmt.Errorf("failed to create QR code: %w", err)
	}

	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, nil, "", "", "", fmt.Errorf("failed to encode QR code: %w", err)
	}

	qrDataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage)

	return encrypted, nonce, key.Secret(), key.URL(), qrDataURL, nil
}

// DecryptSecret recovers a stored TOTP secret.
func (tm *TOTPManager) DecryptSecret(encrypted, nonce []byte) (string, error) {
	plaintext, err := tm.crypto.Decrypt(encrypted, nonce)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	return string(plaintext), nil
}

// ValidateCode checks a 6-digit code against a secret.
// Allows ±1 time step (30s period) for clock drift.
func (tm *TOTPManager) ValidateCode(secret, code string) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}

// GenerateBackupCodes generates count random 8-character backup codes.
// Charset excludes ambiguous characters (0/O, 1/I/L).
func GenerateBackupCodes(count int) ([]string, error) {
	const charset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	codes := make([]string, count)
	buf := make([]byte, 8)
	for i := 0; i < count; i++ {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := make([]byte, 8)
		for j, b := range buf {
			code[j] = charset[int(b)%len(charset)]
		}
		codes[i] = string(code)
	}

	return codes, nil
}
