package models

import (
	"time"
)

// Invite statuses. Pending is the only non-terminal state.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteExpired  = "expired"
	InviteRevoked  = "revoked"
)

// Invite is an admission ticket. The raw token is a bearer credential and is
// never stored; only its SHA-256 hash is persisted.
type Invite struct {
	ID         string
	Email      string
	TokenHash  string
	Status     string
	Role       string // role granted to the consuming account
	Message    *string
	InvitedBy  string
	ConsumedBy *string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the invite's expiry has passed, regardless of
// whether the lazy status transition has been applied yet.
func (i *Invite) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// IsPending reports whether the invite is still consumable.
func (i *Invite) IsPending() bool {
	return i.Status == InvitePending && !i.IsExpired()
}
