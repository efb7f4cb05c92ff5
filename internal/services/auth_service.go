package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	pkgauth "github.com/atriumhq/atrium/pkg/auth"
	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

// AuthUserStore is the slice of the user repository the auth flows need
type AuthUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, q database.Querier, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, q database.Querier, id, passwordHash string) error
}

// InviteAdmitter is the slice of the invite service the auth flows need
type InviteAdmitter interface {
	Validate(ctx context.Context, rawToken string) (*models.Invite, error)
	Consume(ctx context.Context, q database.Querier, rawToken, userID string) error
	AdmitExternalIdentity(ctx context.Context, email string) (string, error)
	ConsumeForEmail(ctx context.Context, q database.Querier, email, userID string) error
}

// ExternalAccountStore defines the interface for linked identity data access
type ExternalAccountStore interface {
	Create(ctx context.Context, q database.Querier, account *models.ExternalAccount) (*models.ExternalAccount, error)
	GetByProviderID(ctx context.Context, provider, providerID string) (*models.ExternalAccount, error)
	CountForUser(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID, provider string) error
}

// SecondFactorVerifier checks an MFA code during session elevation
type SecondFactorVerifier interface {
	Verify(ctx context.Context, userID, code string) (*models.MFAVerification, error)
}

// dummyPasswordHash is a well-formed cost-14 bcrypt hash that matches no
// submitted password. The unknown-email path compares against it so the full
// bcrypt work factor is paid, keeping it indistinguishable by timing from the
// wrong-password path.
const dummyPasswordHash = "$2a$14$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthResult carries the outcome of a successful authentication
type AuthResult struct {
	User                 *models.User
	AccessToken          string
	RefreshToken         string
	MFARequired          bool // true until the session has been elevated with a code
	BackupCodesRemaining *int // set when the elevation consumed a backup code
}

// AuthService handles registration, login, session refresh and revocation,
// and external identity sign-in.
type AuthService struct {
	userRepo    AuthUserStore
	invites     InviteAdmitter
	external    ExternalAccountStore
	sessions    *auth.SessionAuthority
	invalidator SessionInvalidator
	mfa         SecondFactorVerifier
	tx          TxRunner
	rateLimiter RateLimiter
	email       EmailService
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	userRepo AuthUserStore,
	invites InviteAdmitter,
	external ExternalAccountStore,
	sessions *auth.SessionAuthority,
	invalidator SessionInvalidator,
	mfa SecondFactorVerifier,
	tx TxRunner,
	rateLimiter RateLimiter,
	email EmailService,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		invites:     invites,
		external:    external,
		sessions:    sessions,
		invalidator: invalidator,
		mfa:         mfa,
		tx:          tx,
		rateLimiter: rateLimiter,
		email:       email,
		logger:      logger,
		audit:       audit,
	}
}

// RegisterWithInvite creates an account from a valid invite token. The new
// account is active immediately, carries the invite's role, and the invite is
// consumed in the same transaction as the user insert.
func (s *AuthService) RegisterWithInvite(ctx context.Context, rawToken, name, password string) (*AuthResult, error) {
	invite, err := s.invites.Validate(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	var user *models.User
	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		created, err := s.userRepo.Create(ctx, q, &models.User{
			Email:        invite.Email,
			PasswordHash: passwordHash,
			Name:         name,
			Role:         invite.Role,
			Status:       models.StatusActive,
		})
		if err != nil {
			return err
		}
		user = created

		return s.invites.Consume(ctx, q, rawToken, created.ID)
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrInviteUsed) {
			return nil, err
		}
		s.logger.Error("failed to register user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	access, refresh, err := s.sessions.Issue(user)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("role", user.Role))
	s.audit.LogAccountAction("user_registered", user.ID, "", map[string]string{"invite_id": invite.ID})

	return &AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Login authenticates an email/password pair. Unknown email, wrong password
// and password-less external accounts all fail identically; only an inactive
// account is reported distinctly, and only after the password has checked out.
func (s *AuthService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if !s.rateLimiter.Allow(email) {
		return nil, models.ErrRateLimited
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(dummyPasswordHash, password)
			s.logFailedLogin("", ipAddress, userAgent, "unknown_email")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !user.HasPassword() {
		s.logFailedLogin(user.ID, ipAddress, userAgent, "no_password_credential")
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logFailedLogin(user.ID, ipAddress, userAgent, "invalid_password")
		return nil, models.ErrUnauthorized
	}

	if user.Status != models.StatusActive {
		s.logFailedLogin(user.ID, ipAddress, userAgent, "account_inactive")
		return nil, models.ErrAccountInactive
	}

	access, refresh, err := s.sessions.Issue(user)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login",
		UserID:    user.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   true,
	})

	return &AuthResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		MFARequired:  user.MFAIsEnabled(),
	}, nil
}

// ElevateMFA verifies a second-factor code and re-issues the session pair with
// the MFAVerified claim set. The prior session is revoked so the unelevated
// pair cannot keep circulating.
func (s *AuthService) ElevateMFA(ctx context.Context, claims *models.SessionClaims, code string) (*AuthResult, error) {
	verification, err := s.mfa.Verify(ctx, claims.UserID, code)
	if err != nil {
		return nil, err
	}
	if !verification.Verified {
		return nil, models.ErrMFAInvalidCode
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	access, refresh, err := s.sessions.ElevateMFA(user)
	if err != nil {
		s.logger.Error("failed to issue elevated tokens", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.sessions.Invalidate(ctx, claims, "mfa_elevation"); err != nil {
		s.logger.Error("failed to revoke pre-elevation session", slog.Any("error", err))
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "mfa_verify",
		UserID:    user.ID,
		Success:   true,
	})

	result := &AuthResult{User: user, AccessToken: access, RefreshToken: refresh}
	if verification.UsedBackupCode {
		remaining := verification.BackupCodesRemaining
		result.BackupCodesRemaining = &remaining
	}

	return result, nil
}

// Refresh rotates a refresh token into a new pair. The presented token is
// revoked on success, and claims are rebuilt from current account state so
// role or status changes take effect at rotation.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.sessions.Validate(ctx, refreshToken)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != "refresh" {
		return nil, models.ErrUnauthorized
	}

	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, models.ErrUnauthorized
	}

	if user.Status != models.StatusActive {
		return nil, models.ErrAccountInactive
	}

	// A reset or change after issuance invalidates the refresh token even if
	// the revocation row has expired.
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		user.PasswordChangedAt.After(claims.IssuedAt.Time) {
		return nil, models.ErrUnauthorized
	}

	access, refresh, err := s.sessions.IssuePair(user, !user.MFAIsEnabled() || claims.MFAVerified)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.sessions.Invalidate(ctx, claims, "refresh_rotation"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.Any("error", err))
	}

	return &AuthResult{User: user, AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the presented session.
func (s *AuthService) Logout(ctx context.Context, claims *models.SessionClaims) error {
	if err := s.sessions.Invalidate(ctx, claims, "logout"); err != nil {
		s.logger.Error("failed to revoke session", slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// LogoutAll revokes every session belonging to the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.sessions.InvalidateAll(ctx, userID, "logout_all"); err != nil {
		s.logger.Error("failed to revoke sessions", slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.audit.LogAccountAction("logout_all", userID, "", nil)
	return nil
}

// ChangePassword rewrites the password after verifying the current one, then
// revokes every session in the same transaction. The caller must log in again.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() {
		return models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		s.audit.LogPasswordChange(userID, "", false)
		return models.ErrUnauthorized
	}

	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		if err := s.userRepo.UpdatePassword(ctx, q, userID, passwordHash); err != nil {
			return err
		}
		return s.invalidator.RevokeAllUserSessionsQ(ctx, q, userID, "password_change")
	})
	if err != nil {
		s.logger.Error("failed to change password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.email.Send(ctx, EmailKindPasswordChanged, user.Email, nil); err != nil {
		s.logger.Error("failed to send password changed email", slog.Any("error", err))
	}

	s.audit.LogPasswordChange(userID, "", true)

	return nil
}

// SignInExternal resolves a verified external identity assertion into a
// session. A linked identity logs straight in; an unlinked identity matching
// an existing account is linked to it; otherwise admission requires a pending
// invite for the asserted email, which is consumed when the account is
// created.
func (s *AuthService) SignInExternal(ctx context.Context, provider, providerID, email, name string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.external.GetByProviderID(ctx, provider, providerID)
	if err == nil {
		user, err := s.userRepo.GetByID(ctx, account.UserID)
		if err != nil {
			return nil, err
		}
		return s.issueExternal(ctx, user, provider)
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up external account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		// Existing account with the same verified email: link the identity
		err = s.tx.RunTx(ctx, func(q database.Querier) error {
			_, err := s.external.Create(ctx, q, &models.ExternalAccount{
				UserID:     user.ID,
				Provider:   provider,
				ProviderID: providerID,
				Email:      email,
			})
			return err
		})
		if err != nil {
			s.logger.Error("failed to link external account", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		s.audit.LogAccountAction("external_account_linked", user.ID, "", map[string]string{"provider": provider})
		return s.issueExternal(ctx, user, provider)
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to look up user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// New identity: admission is still invite-gated
	role, err := s.invites.AdmitExternalIdentity(ctx, email)
	if err != nil {
		return nil, err
	}

	var created *models.User
	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		created, err = s.userRepo.Create(ctx, q, &models.User{
			Email:  email,
			Name:   name,
			Role:   role,
			Status: models.StatusActive,
		})
		if err != nil {
			return err
		}

		if err := s.invites.ConsumeForEmail(ctx, q, email, created.ID); err != nil {
			return err
		}

		_, err = s.external.Create(ctx, q, &models.ExternalAccount{
			UserID:     created.ID,
			Provider:   provider,
			ProviderID: providerID,
			Email:      email,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrAdmissionDenied) || errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user from external identity", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered via external identity",
		slog.String("user_id", created.ID),
		slog.String("provider", provider))

	return s.issueExternal(ctx, created, provider)
}

func (s *AuthService) issueExternal(ctx context.Context, user *models.User, provider string) (*AuthResult, error) {
	if user.Status != models.StatusActive {
		return nil, models.ErrAccountInactive
	}

	access, refresh, err := s.sessions.Issue(user)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "external_sign_in",
		UserID:    user.ID,
		Success:   true,
		Metadata:  map[string]string{"provider": provider},
	})

	return &AuthResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: refresh,
		MFARequired:  user.MFAIsEnabled(),
	}, nil
}

// DisconnectExternal unlinks a provider identity. Removing the last way into
// an account is refused: a password-less account must keep at least one
// linked identity.
func (s *AuthService) DisconnectExternal(ctx context.Context, userID, provider string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() {
		count, err := s.external.CountForUser(ctx, userID)
		if err != nil {
			s.logger.Error("failed to count external accounts", slog.Any("error", err))
			return models.ErrInternalServer
		}
		if count <= 1 {
			return models.ErrLastCredential
		}
	}

	if err := s.external.Delete(ctx, userID, provider); err != nil {
		return err
	}

	s.audit.LogAccountAction("external_account_unlinked", userID, "", map[string]string{"provider": provider})

	return nil
}

func (s *AuthService) logFailedLogin(userID, ipAddress, userAgent, reason string) {
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login",
		UserID:        userID,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
		Success:       false,
		FailureReason: reason,
	})
}
