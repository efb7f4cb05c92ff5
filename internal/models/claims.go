package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the claim set carried by every session artifact. Claims are
// only ever issued or re-issued by the session authority; MFAVerified starts
// false for MFA-enabled accounts and flips only after a successful code check.
type SessionClaims struct {
	Type        string `json:"type"` // "access" or "refresh"
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	MFAEnabled  bool   `json:"mfa_enabled"`
	MFAVerified bool   `json:"mfa_verified"`
	jwt.RegisteredClaims
}
