package models

import (
	"time"
)

// User roles, least to most privileged
const (
	RoleUser       = "user"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// User account statuses
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDeleted   = "deleted"
)

// MFA enrollment states. A pending secret has been provisioned but never
// confirmed with a valid code and must not be accepted for login.
const (
	MFADisabled = "disabled"
	MFAPending  = "pending"
	MFAEnabled  = "enabled"
)

type User struct {
	ID                 string
	Email              string
	PasswordHash       string // empty for external-identity-only accounts
	Name               string
	Role               string
	Status             string
	MFAStatus          string
	MFASecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	MFASecretNonce     []byte // GCM nonce (12 bytes)
	MFAEnrolledAt      *time.Time
	PasswordChangedAt  *time.Time // used to reject sessions issued before a reset
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// MFAIsEnabled reports whether a confirmed TOTP secret exists.
func (u *User) MFAIsEnabled() bool {
	return u.MFAStatus == MFAEnabled
}

// ValidRole reports whether role is one of the known role constants.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}
