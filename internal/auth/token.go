package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/atriumhq/atrium/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionRevocationStore is the persistence behind InvalidateAll semantics:
// best-effort immediate revocation checked on every validation.
type SessionRevocationStore interface {
	RevokeSession(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	RevokeAllUserSessions(ctx context.Context, userID, reason string) error
	IsSessionRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error)
}

// SessionAuthority issues and refreshes the authenticated-principal claim set.
// Claims are only ever updated through this type: the MFAVerified claim flips
// to true solely via ElevateMFA after the verifier confirms a code.
type SessionAuthority struct {
	secret        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	revocations   SessionRevocationStore
}

// NewSessionAuthority creates a new SessionAuthority
func NewSessionAuthority(secret string, accessExpiry, refreshExpiry time.Duration, revocations SessionRevocationStore) *SessionAuthority {
	return &SessionAuthority{
		secret:        secret,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		revocations:   revocations,
	}
}

// IssuePair creates an access/refresh token pair for a user. mfaVerified must
// be false for MFA-enabled accounts until a code has been confirmed; accounts
// without MFA are immediately verified.
func (sa *SessionAuthority) IssuePair(user *models.User, mfaVerified bool) (string, string, error) {
	access, err := sa.issue(user, "access", sa.accessExpiry, mfaVerified)
	if err != nil {
		return "", "", err
	}

	refresh, err := sa.issue(user, "refresh", sa.refreshExpiry, mfaVerified)
	if err != nil {
		return "", "", err
	}

	return access, refresh, nil
}

// Issue creates a pair with MFAVerified initialized from the account's MFA
// state: no MFA required means immediately verified.
func (sa *SessionAuthority) Issue(user *models.User) (string, string, error) {
	return sa.IssuePair(user, !user.MFAIsEnabled())
}

// ElevateMFA re-issues the pair with MFAVerified=true after a successful code
// check, without requiring full re-authentication.
func (sa *SessionAuthority) ElevateMFA(user *models.User) (string, string, error) {
	return sa.IssuePair(user, true)
}

func (sa *SessionAuthority) issue(user *models.User, tokenType string, expiry time.Duration, mfaVerified bool) (string, error) {
	now := time.Now()
	claims := &models.SessionClaims{
		Type:        tokenType,
		UserID:      user.ID,
		Role:        user.Role,
		Status:      user.Status,
		MFAEnabled:  user.MFAIsEnabled(),
		MFAVerified: mfaVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(sa.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return signed, nil
}

// ParseToken verifies a token signature and returns its claims. It does not
// consult the revocation store; use Validate for full session validation.
func (sa *SessionAuthority) ParseToken(tokenString string) (*models.SessionClaims, error) {
	claims := &models.SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(sa.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type == "" {
		return nil, fmt.Errorf("invalid token: missing type")
	}

	return claims, nil
}

// Validate parses a token and rejects it if the session has been invalidated,
// either individually (logout) or user-wide (logout-all, password reset).
func (sa *SessionAuthority) Validate(ctx context.Context, tokenString string) (*models.SessionClaims, error) {
	claims, err := sa.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	if sa.revocations != nil && claims.ID != "" {
		issuedAt := time.Time{}
		if claims.IssuedAt != nil {
			issuedAt = claims.IssuedAt.Time
		}
		revoked, err := sa.revocations.IsSessionRevoked(ctx, claims.ID, claims.UserID, issuedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to check session revocation: %w", err)
		}
		if revoked {
			return nil, models.ErrUnauthorized
		}
	}

	return claims, nil
}

// Invalidate revokes a single session by its JTI.
func (sa *SessionAuthority) Invalidate(ctx context.Context, claims *models.SessionClaims, reason string) error {
	expiresAt := time.Now().Add(sa.refreshExpiry)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return sa.revocations.RevokeSession(ctx, claims.ID, claims.UserID, claims.Type, expiresAt, reason)
}

// InvalidateAll revokes every session belonging to a user. Any previously
// issued artifact is rejected on its next validation.
func (sa *SessionAuthority) InvalidateAll(ctx context.Context, userID, reason string) error {
	return sa.revocations.RevokeAllUserSessions(ctx, userID, reason)
}
