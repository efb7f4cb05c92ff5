package models

import (
	"time"
)

// PasswordResetToken is a single-use credential-reset ticket. Only the SHA-256
// hash of the raw token is persisted. At most one usable (unused, unexpired)
// token exists per user; issuance invalidates prior tokens.
type PasswordResetToken struct {
	ID               string
	UserID           string
	TokenHash        string
	ExpiresAt        time.Time
	UsedAt           *time.Time
	RequestIP        string // audit only
	RequestUserAgent string // audit only
	CreatedAt        time.Time
}

// IsUsed reports whether the token has been consumed.
func (t *PasswordResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsExpired reports whether the token's expiry has passed.
func (t *PasswordResetToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
