package services

import (
	"context"
	"testing"
	"time"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	pkgauth "github.com/atriumhq/atrium/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResetService(
	resetRepo *mockResetRepo,
	userRepo *mockUserRepo,
	invalidator *mockSessionInvalidator,
	limiter RateLimiter,
	email *mockEmailService,
	crypto *auth.TokenCrypto,
) *PasswordResetService {
	return NewPasswordResetService(
		resetRepo,
		userRepo,
		invalidator,
		&mockTxRunner{},
		limiter,
		crypto,
		email,
		testLogger(),
		testAudit(),
		ResetConfig{TokenTTL: time.Hour},
	)
}

// ============================================================================
// Request Tests
// ============================================================================

func TestPasswordResetService_Request_Success(t *testing.T) {
	crypto := newTestCrypto(t)
	email := &mockEmailService{}

	invalidated := false
	var storedHash string
	resetRepo := &mockResetRepo{
		InvalidateForUserFunc: func(ctx context.Context, q database.Querier, userID string) error {
			invalidated = true
			assert.Equal(t, "user123", userID)
			return nil
		},
		CreateFunc: func(ctx context.Context, q database.Querier, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
			storedHash = token.TokenHash
			token.ID = "reset123"
			return token, nil
		},
	}
	userRepo := &mockUserRepo{
		GetByEmailFunc: func(ctx context.Context, e string) (*models.User, error) {
			assert.Equal(t, "user@example.com", e)
			return &models.User{ID: "user123", Email: e, Status: models.StatusActive}, nil
		},
	}

	svc := newResetService(resetRepo, userRepo, &mockSessionInvalidator{}, allowAllLimiter{}, email, crypto)

	err := svc.Request(context.Background(), "User@Example.com", "203.0.113.7", "test-agent")
	require.NoError(t, err)

	assert.True(t, invalidated, "prior tokens must be invalidated before issuing")
	require.Len(t, email.sent, 1)
	assert.Equal(t, EmailKindPasswordReset, email.sent[0].kind)
	assert.Equal(t, crypto.HashToken(email.sent[0].params["token"]), storedHash)
}

func TestPasswordResetService_Request_UnknownEmailSilentSuccess(t *testing.T) {
	crypto := newTestCrypto(t)
	email := &mockEmailService{}
	userRepo := &mockUserRepo{
		GetByEmailFunc: func(ctx context.Context, e string) (*models.User, error) {
			return nil, models.ErrNotFound
		},
	}

	svc := newResetService(&mockResetRepo{}, userRepo, &mockSessionInvalidator{}, allowAllLimiter{}, email, crypto)

	err := svc.Request(context.Background(), "ghost@example.com", "", "")
	assert.NoError(t, err, "unknown email must look identical to success")
	assert.Empty(t, email.sent)
}

func TestPasswordResetService_Request_RateLimited(t *testing.T) {
	crypto := newTestCrypto(t)
	svc := newResetService(&mockResetRepo{}, &mockUserRepo{}, &mockSessionInvalidator{}, denyAllLimiter{}, &mockEmailService{}, crypto)

	err := svc.Request(context.Background(), "user@example.com", "", "")
	assert.ErrorIs(t, err, models.ErrRateLimited)
}

func TestPasswordResetService_Request_LimiterWindow(t *testing.T) {
	crypto := newTestCrypto(t)
	limiter := NewFixedWindowRateLimiter(RateLimitConfig{MaxAttempts: 3, Window: time.Hour}, testLogger())

	email := &mockEmailService{}
	resetRepo := &mockResetRepo{
		InvalidateForUserFunc: func(ctx context.Context, q database.Querier, userID string) error { return nil },
		CreateFunc: func(ctx context.Context, q database.Querier, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
			return token, nil
		},
	}
	userRepo := &mockUserRepo{
		GetByEmailFunc: func(ctx context.Context, e string) (*models.User, error) {
			return &models.User{ID: "user123", Email: e, Status: models.StatusActive}, nil
		},
	}

	svc := newResetService(resetRepo, userRepo, &mockSessionInvalidator{}, limiter, email, crypto)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Request(context.Background(), "user@example.com", "", ""))
	}

	err := svc.Request(context.Background(), "user@example.com", "", "")
	assert.ErrorIs(t, err, models.ErrRateLimited, "fourth request in the window must be throttled")

	// A different email has its own window
	assert.NoError(t, svc.Request(context.Background(), "other@example.com", "", ""))
}

// ============================================================================
// Validate Tests
// ============================================================================

func TestPasswordResetService_Validate(t *testing.T) {
	crypto := newTestCrypto(t)
	resetRepo := &mockResetRepo{
		GetUsableByTokenHashFunc: func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
			if tokenHash == crypto.HashToken("good-token") {
				return &models.PasswordResetToken{ID: "reset123", UserID: "user123"}, nil
			}
			return nil, models.ErrNotFound
		},
	}

	svc := newResetService(resetRepo, &mockUserRepo{}, &mockSessionInvalidator{}, allowAllLimiter{}, &mockEmailService{}, crypto)

	ok, err := svc.Validate(context.Background(), "good-token")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Validate(context.Background(), "bad-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ============================================================================
// Consume Tests
// ============================================================================

func TestPasswordResetService_Consume_Success(t *testing.T) {
	crypto := newTestCrypto(t)
	email := &mockEmailService{}
	newPassword := "NewSecret123!"

	var savedHash string
	revoked := false
	resetRepo := &mockResetRepo{
		MarkUsedFunc: func(ctx context.Context, q database.Querier, tokenHash string) (*models.PasswordResetToken, error) {
			assert.Equal(t, crypto.HashToken("raw-token"), tokenHash)
			return &models.PasswordResetToken{ID: "reset123", UserID: "user123"}, nil
		},
	}
	userRepo := &mockUserRepo{
		UpdatePasswordFunc: func(ctx context.Context, q database.Querier, id, passwordHash string) error {
			assert.Equal(t, "user123", id)
			savedHash = passwordHash
			return nil
		},
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Email: "user@example.com"}, nil
		},
	}
	invalidator := &mockSessionInvalidator{
		RevokeAllUserSessionsQFunc: func(ctx context.Context, q database.Querier, userID, reason string) error {
			revoked = true
			assert.Equal(t, "user123", userID)
			return nil
		},
	}

	svc := newResetService(resetRepo, userRepo, invalidator, allowAllLimiter{}, email, crypto)

	err := svc.Consume(context.Background(), "raw-token", newPassword)
	require.NoError(t, err)

	assert.NoError(t, pkgauth.ComparePassword(savedHash, newPassword))
	assert.True(t, revoked, "every session must be revoked with the password change")

	require.Len(t, email.sent, 1)
	assert.Equal(t, EmailKindPasswordChanged, email.sent[0].kind)
}

func TestPasswordResetService_Consume_InvalidToken(t *testing.T) {
	crypto := newTestCrypto(t)
	resetRepo := &mockResetRepo{
		MarkUsedFunc: func(ctx context.Context, q database.Querier, tokenHash string) (*models.PasswordResetToken, error) {
			return nil, models.ErrResetTokenInvalid
		},
	}

	svc := newResetService(resetRepo, &mockUserRepo{}, &mockSessionInvalidator{}, allowAllLimiter{}, &mockEmailService{}, crypto)

	err := svc.Consume(context.Background(), "spent-token", "NewSecret123!")
	assert.ErrorIs(t, err, models.ErrResetTokenInvalid)
}

func TestPasswordResetService_Consume_WeakPasswordRejected(t *testing.T) {
	crypto := newTestCrypto(t)
	svc := newResetService(&mockResetRepo{}, &mockUserRepo{}, &mockSessionInvalidator{}, allowAllLimiter{}, &mockEmailService{}, crypto)

	err := svc.Consume(context.Background(), "raw-token", "short")
	assert.Error(t, err)
}
