package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	pkgauth "github.com/atriumhq/atrium/pkg/auth"
	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

// PasswordResetRepository defines the interface for reset token data access
type PasswordResetRepository interface {
	Create(ctx context.Context, q database.Querier, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetUsableByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	InvalidateForUser(ctx context.Context, q database.Querier, userID string) error
	MarkUsed(ctx context.Context, q database.Querier, tokenHash string) (*models.PasswordResetToken, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// UserCredentialStore is the slice of the user repository the reset flow needs
type UserCredentialStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, q database.Querier, id, passwordHash string) error
}

// SessionInvalidator revokes sessions inside the reset transaction
type SessionInvalidator interface {
	RevokeAllUserSessionsQ(ctx context.Context, q database.Querier, userID, reason string) error
}

// TxRunner runs a function inside a database transaction
type TxRunner interface {
	RunTx(ctx context.Context, fn func(database.Querier) error) error
}

// ResetConfig holds password reset policy constants
type ResetConfig struct {
	TokenTTL time.Duration
}

// PasswordResetService handles the reset-token lifecycle: issuance with prior
// token invalidation, validation, and single-shot consumption that atomically
// rewrites the password and revokes every session.
type PasswordResetService struct {
	resetRepo   PasswordResetRepository
	userRepo    UserCredentialStore
	sessions    SessionInvalidator
	tx          TxRunner
	rateLimiter RateLimiter
	crypto      *auth.TokenCrypto
	email       EmailService
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	config      ResetConfig
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	resetRepo PasswordResetRepository,
	userRepo UserCredentialStore,
	sessions SessionInvalidator,
	tx TxRunner,
	rateLimiter RateLimiter,
	crypto *auth.TokenCrypto,
	email EmailService,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config ResetConfig,
) *PasswordResetService {
	return &PasswordResetService{
		resetRepo:   resetRepo,
		userRepo:    userRepo,
		sessions:    sessions,
		tx:          tx,
		rateLimiter: rateLimiter,
		crypto:      crypto,
		email:       email,
		logger:      logger,
		audit:       audit,
		config:      config,
	}
}

// Request issues a reset token for email. The caller always receives the same
// generic outcome whether or not an account exists, to prevent enumeration;
// only rate limiting is surfaced distinctly.
func (s *PasswordResetService) Request(ctx context.Context, email, ipAddress, userAgent string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if !s.rateLimiter.Allow(email) {
		s.logger.Warn("password reset rate limited",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return models.ErrRateLimited
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Generic success: no hint that the account does not exist
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		s.logger.Error("failed to look up user for reset", slog.Any("error", err))
		return models.ErrInternalServer
	}

	rawToken, err := s.crypto.RandomToken(32)
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	token := &models.PasswordResetToken{
		UserID:           user.ID,
		TokenHash:        s.crypto.HashToken(rawToken),
		ExpiresAt:        time.Now().Add(s.config.TokenTTL),
		RequestIP:        ipAddress,
		RequestUserAgent: userAgent,
	}

	// Invalidate prior tokens and create the new one as one unit, keeping at
	// most one usable token per user.
	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		if err := s.resetRepo.InvalidateForUser(ctx, q, user.ID); err != nil {
			return err
		}
		_, err := s.resetRepo.Create(ctx, q, token)
		return err
	})
	if err != nil {
		s.logger.Error("failed to create reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.Send(ctx, EmailKindPasswordReset, email, map[string]string{"token": rawToken}); err != nil {
		// Non-fatal: the token exists, the user can retry the request
		s.logger.Error("failed to send reset email", slog.Any("error", err))
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "password_reset_requested",
		UserID:    user.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return nil
}

// Validate reports whether a raw token is currently usable.
func (s *PasswordResetService) Validate(ctx context.Context, rawToken string) (bool, error) {
	_, err := s.resetRepo.GetUsableByTokenHash(ctx, s.crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("failed to validate reset token", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return true, nil
}

// Consume redeems a token exactly once. Password update, token consumption,
// and session invalidation commit as a single transaction: a previously
// issued session fails validation as soon as the caller sees success.
func (s *PasswordResetService) Consume(ctx context.Context, rawToken, newPassword string) error {
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	tokenHash := s.crypto.HashToken(rawToken)

	var userID string
	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		token, err := s.resetRepo.MarkUsed(ctx, q, tokenHash)
		if err != nil {
			return err
		}
		userID = token.UserID

		if err := s.userRepo.UpdatePassword(ctx, q, token.UserID, passwordHash); err != nil {
			return err
		}

		return s.sessions.RevokeAllUserSessionsQ(ctx, q, token.UserID, "password_reset")
	})
	if err != nil {
		if errors.Is(err, models.ErrResetTokenInvalid) {
			return models.ErrResetTokenInvalid
		}
		s.logger.Error("failed to consume reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user, lookupErr := s.userRepo.GetByID(ctx, userID); lookupErr == nil {
		if sendErr := s.email.Send(ctx, EmailKindPasswordChanged, user.Email, nil); sendErr != nil {
			s.logger.Error("failed to send password changed email", slog.Any("error", sendErr))
		}
	}

	s.logger.Info("password reset completed", slog.String("user_id", userID))
	s.audit.LogPasswordChange(userID, "", true)

	return nil
}
