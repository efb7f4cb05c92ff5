package models

import (
	"time"
)

// ExternalAccount links a user to an identity at an external provider.
// A user must always keep a password hash or at least one linked account.
type ExternalAccount struct {
	ID         string
	UserID     string
	Provider   string // "google", "github"
	ProviderID string // subject identifier at the provider
	Email      string
	CreatedAt  time.Time
}
