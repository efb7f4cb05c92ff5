package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atriumhq/atrium/internal/models"
)

const testSecret = "test-secret-key-for-token-tests"

type memRevocationStore struct {
	revokedJTIs  map[string]bool
	revokedUsers map[string]time.Time // userID -> revocation cutoff
}

func newMemRevocationStore() *memRevocationStore {
	return &memRevocationStore{
		revokedJTIs:  make(map[string]bool),
		revokedUsers: make(map[string]time.Time),
	}
}

func (m *memRevocationStore) RevokeSession(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	m.revokedJTIs[jti] = true
	return nil
}

func (m *memRevocationStore) RevokeAllUserSessions(ctx context.Context, userID, reason string) error {
	m.revokedUsers[userID] = time.Now()
	return nil
}

func (m *memRevocationStore) IsSessionRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error) {
	if m.revokedJTIs[jti] {
		return true, nil
	}
	if cutoff, ok := m.revokedUsers[userID]; ok && !issuedAt.After(cutoff) {
		return true, nil
	}
	return false, nil
}

func newAuthority(store SessionRevocationStore) *SessionAuthority {
	return NewSessionAuthority(testSecret, 15*time.Minute, 7*24*time.Hour, store)
}

func testUser(mfaStatus string) *models.User {
	return &models.User{
		ID:        "user-123",
		Email:     "user@example.com",
		Role:      models.RoleUser,
		Status:    models.StatusActive,
		MFAStatus: mfaStatus,
	}
}

// ============================================================================
// Issue Tests
// ============================================================================

func TestSessionAuthority_Issue_ClaimContents(t *testing.T) {
	sa := newAuthority(newMemRevocationStore())

	access, refresh, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)
	assert.NotEqual(t, access, refresh)

	claims, err := sa.ParseToken(access)
	require.NoError(t, err)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
	assert.Equal(t, models.StatusActive, claims.Status)
	assert.NotEmpty(t, claims.ID)

	refreshClaims, err := sa.ParseToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refreshClaims.Type)
	assert.NotEqual(t, claims.ID, refreshClaims.ID)
}

func TestSessionAuthority_Issue_MFAVerifiedFollowsEnrollment(t *testing.T) {
	sa := newAuthority(newMemRevocationStore())

	// No MFA on the account: immediately verified.
	access, _, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)
	claims, err := sa.ParseToken(access)
	require.NoError(t, err)
	assert.False(t, claims.MFAEnabled)
	assert.True(t, claims.MFAVerified)

	// Enrolled account: half-authenticated until elevated.
	access, _, err = sa.Issue(testUser(models.MFAEnabled))
	require.NoError(t, err)
	claims, err = sa.ParseToken(access)
	require.NoError(t, err)
	assert.True(t, claims.MFAEnabled)
	assert.False(t, claims.MFAVerified)

	// A pending, unconfirmed secret must not count as enrolled.
	access, _, err = sa.Issue(testUser(models.MFAPending))
	require.NoError(t, err)
	claims, err = sa.ParseToken(access)
	require.NoError(t, err)
	assert.False(t, claims.MFAEnabled)
	assert.True(t, claims.MFAVerified)
}

func TestSessionAuthority_ElevateMFA(t *testing.T) {
	sa := newAuthority(newMemRevocationStore())

	access, _, err := sa.ElevateMFA(testUser(models.MFAEnabled))
	require.NoError(t, err)

	claims, err := sa.ParseToken(access)
	require.NoError(t, err)
	assert.True(t, claims.MFAEnabled)
	assert.True(t, claims.MFAVerified)
}

// ============================================================================
// Parse Tests
// ============================================================================

func TestSessionAuthority_ParseToken_WrongSecret(t *testing.T) {
	sa := newAuthority(newMemRevocationStore())
	other := NewSessionAuthority("a-different-secret", 15*time.Minute, time.Hour, nil)

	access, _, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)

	_, err = other.ParseToken(access)
	assert.Error(t, err)
}

func TestSessionAuthority_ParseToken_Garbage(t *testing.T) {
	sa := newAuthority(newMemRevocationStore())

	_, err := sa.ParseToken("not.a.token")
	assert.Error(t, err)
}

func TestSessionAuthority_ParseToken_Expired(t *testing.T) {
	sa := NewSessionAuthority(testSecret, -time.Minute, -time.Minute, nil)

	access, _, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)

	_, err = sa.ParseToken(access)
	assert.Error(t, err)
}

// ============================================================================
// Validate / Revocation Tests
// ============================================================================

func TestSessionAuthority_Validate_RevokedSession(t *testing.T) {
	store := newMemRevocationStore()
	sa := newAuthority(store)
	ctx := context.Background()

	access, _, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)

	claims, err := sa.Validate(ctx, access)
	require.NoError(t, err)

	require.NoError(t, sa.Invalidate(ctx, claims, "logout"))

	_, err = sa.Validate(ctx, access)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestSessionAuthority_InvalidateAll_RejectsPriorTokens(t *testing.T) {
	store := newMemRevocationStore()
	sa := newAuthority(store)
	ctx := context.Background()

	access, refresh, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)

	require.NoError(t, sa.InvalidateAll(ctx, "user-123", "password_reset"))

	_, err = sa.Validate(ctx, access)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = sa.Validate(ctx, refresh)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Tokens issued after the sweep are good again. JWT iat has second
	// precision, so step past the cutoff second.
	time.Sleep(1100 * time.Millisecond)
	access2, _, err := sa.Issue(testUser(models.MFADisabled))
	require.NoError(t, err)
	_, err = sa.Validate(ctx, access2)
	assert.NoError(t, err)
}

func TestSessionAuthority_Validate_OtherUserUnaffected(t *testing.T) {
	store := newMemRevocationStore()
	sa := newAuthority(store)
	ctx := context.Background()

	other := testUser(models.MFADisabled)
	other.ID = "user-456"
	access, _, err := sa.Issue(other)
	require.NoError(t, err)

	require.NoError(t, sa.InvalidateAll(ctx, "user-123", "logout_all"))

	_, err = sa.Validate(ctx, access)
	assert.NoError(t, err)
}
