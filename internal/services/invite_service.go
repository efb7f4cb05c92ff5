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
	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

// InviteRepository defines the interface for invite data access
type InviteRepository interface {
	Create(ctx context.Context, invite *models.Invite) (*models.Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invite, error)
	GetByID(ctx context.Context, id string) (*models.Invite, error)
	GetPendingByEmail(ctx context.Context, email string) (*models.Invite, error)
	List(ctx context.Context, limit, offset int) ([]*models.Invite, error)
	MarkExpired(ctx context.Context, id string) error
	Consume(ctx context.Context, q database.Querier, tokenHash, consumedBy string) error
	ConsumeByEmail(ctx context.Context, q database.Querier, email, consumedBy string) error
	RotateToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*models.Invite, error)
	Delete(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	SweepExpired(ctx context.Context) (int64, error)
}

// UserLookup is the slice of the user repository the invite ledger needs
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// InviteConfig holds invite policy constants
type InviteConfig struct {
	AdminTTL       time.Duration
	SelfServiceTTL time.Duration
}

// InviteService is the authoritative ledger of admission tickets gating
// account creation. Registration is closed: every new account, including
// external-identity sign-ins, must consume a pending invite.
type InviteService struct {
	inviteRepo InviteRepository
	userRepo   UserLookup
	email      EmailService
	crypto     *auth.TokenCrypto
	logger     *slog.Logger
	audit      *pkglogger.AuditLogger
	config     InviteConfig
}

// NewInviteService creates a new InviteService
func NewInviteService(
	inviteRepo InviteRepository,
	userRepo UserLookup,
	email EmailService,
	crypto *auth.TokenCrypto,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config InviteConfig,
) *InviteService {
	return &InviteService{
		inviteRepo: inviteRepo,
		userRepo:   userRepo,
		email:      email,
		crypto:     crypto,
		logger:     logger,
		audit:      audit,
		config:     config,
	}
}

// Create issues a new invite for email. Fails with ErrConflict when an account
// already exists or a pending, unexpired invite is outstanding. Issuance is
// not durable until the invite-issued notification succeeds: a failed dispatch
// rolls the invite back.
func (s *InviteService) Create(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error) {
	return s.create(ctx, email, role, issuerID, message, s.config.AdminTTL, false)
}

// CreateSelfService is the idempotent variant used by self-service
// conversions: an outstanding pending invite is refreshed and re-sent instead
// of erroring.
func (s *InviteService) CreateSelfService(ctx context.Context, email, role, issuerID string, message *string) (*models.Invite, error) {
	return s.create(ctx, email, role, issuerID, message, s.config.SelfServiceTTL, true)
}

func (s *InviteService) create(ctx context.Context, email, role, issuerID string, message *string, ttl time.Duration, resend bool) (*models.Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, models.ErrBadRequest
	}
	if !models.ValidRole(role) {
		return nil, models.ErrBadRequest
	}

	// An existing account never needs an invite
	_, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("invite rejected: account exists",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check for existing user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	existing, err := s.inviteRepo.GetPendingByEmail(ctx, email)
	switch {
	case err == nil && existing.IsExpired():
		// A stale pending row still holds the partial unique index slot.
		// Apply the lazy expiry transition here so issuance does not report a
		// spurious conflict until the background sweep runs.
		if markErr := s.inviteRepo.MarkExpired(ctx, existing.ID); markErr != nil {
			s.logger.Error("failed to expire stale invite",
				slog.String("invite_id", existing.ID),
				slog.Any("error", markErr))
			return nil, models.ErrInternalServer
		}
	case err == nil:
		if !resend {
			return nil, models.ErrConflict
		}
		return s.refresh(ctx, existing, ttl)
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("failed to check for pending invite", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	rawToken, err := s.crypto.RandomToken(32)
	if err != nil {
		s.logger.Error("failed to generate invite token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	invite := &models.Invite{
		Email:     email,
		TokenHash: s.crypto.HashToken(rawToken),
		Role:      role,
		Message:   message,
		InvitedBy: issuerID,
		ExpiresAt: time.Now().Add(ttl),
	}

	created, err := s.inviteRepo.Create(ctx, invite)
	if err != nil {
		// The partial unique index turns a concurrent duplicate into a conflict
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create invite", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.dispatch(ctx, created, rawToken); err != nil {
		// Issuance is only durable once the notification succeeds
		if delErr := s.inviteRepo.Delete(ctx, created.ID); delErr != nil {
			s.logger.Error("failed to roll back invite after dispatch failure",
				slog.String("invite_id", created.ID),
				slog.Any("error", delErr))
		}
		return nil, models.ErrInternalServer
	}

	s.logger.Info("invite created",
		slog.String("invite_id", created.ID),
		slog.String("role", created.Role))
	s.audit.LogInviteEvent("invite_created", created.ID, issuerID, map[string]string{
		"role": created.Role,
	})

	return created, nil
}

// refresh rotates the token on an outstanding invite and re-sends it. Tokens
// are hashed at rest, so a resend must mint fresh raw material.
func (s *InviteService) refresh(ctx context.Context, invite *models.Invite, ttl time.Duration) (*models.Invite, error) {
	rawToken, err := s.crypto.RandomToken(32)
	if err != nil {
		s.logger.Error("failed to generate invite token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	rotated, err := s.inviteRepo.RotateToken(ctx, invite.ID, s.crypto.HashToken(rawToken), time.Now().Add(ttl))
	if err != nil {
		s.logger.Error("failed to rotate invite token",
			slog.String("invite_id", invite.ID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.dispatch(ctx, rotated, rawToken); err != nil {
		return nil, models.ErrInternalServer
	}

	s.logger.Info("invite re-sent", slog.String("invite_id", rotated.ID))
	return rotated, nil
}

func (s *InviteService) dispatch(ctx context.Context, invite *models.Invite, rawToken string) error {
	params := map[string]string{
		"token":      rawToken,
		"expires_at": invite.ExpiresAt.Format(time.RFC3339),
	}
	if invite.Message != nil {
		params["message"] = *invite.Message
	}

	if err := s.email.Send(ctx, EmailKindInviteIssued, invite.Email, params); err != nil {
		s.logger.Error("invite notification failed",
			slog.String("invite_id", invite.ID),
			slog.Any("error", err))
		return err
	}

	return nil
}

// Validate checks a raw invite token and returns the invite without mutating
// it, except for the lazy pending -> expired transition.
func (s *InviteService) Validate(ctx context.Context, rawToken string) (*models.Invite, error) {
	invite, err := s.inviteRepo.GetByTokenHash(ctx, s.crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInviteNotFound
		}
		s.logger.Error("failed to look up invite", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	switch invite.Status {
	case models.InvitePending:
		if invite.IsExpired() {
			if err := s.inviteRepo.MarkExpired(ctx, invite.ID); err != nil {
				s.logger.Error("failed to mark invite expired",
					slog.String("invite_id", invite.ID),
					slog.Any("error", err))
			}
			return nil, models.ErrInviteExpired
		}
		return invite, nil
	case models.InviteExpired:
		return nil, models.ErrInviteExpired
	case models.InviteRevoked:
		return nil, models.ErrInviteRevoked
	default:
		return nil, models.ErrInviteUsed
	}
}

// Consume accepts a pending invite exactly once, transactionally with the
// creation of the consuming user. A second consume fails ErrInviteUsed.
func (s *InviteService) Consume(ctx context.Context, q database.Querier, rawToken, userID string) error {
	return s.inviteRepo.Consume(ctx, q, s.crypto.HashToken(rawToken), userID)
}

// AdmitExternalIdentity implements closed signup for external-identity
// sign-in: a not-yet-existing user is admitted only when a pending, unexpired
// invite exists for their email. Returns the role the invite grants.
func (s *InviteService) AdmitExternalIdentity(ctx context.Context, email string) (string, error) {
	invite, err := s.inviteRepo.GetPendingByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrAdmissionDenied
		}
		s.logger.Error("failed to look up invite for admission", slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	if invite.IsExpired() {
		if markErr := s.inviteRepo.MarkExpired(ctx, invite.ID); markErr != nil {
			s.logger.Error("failed to expire stale invite",
				slog.String("invite_id", invite.ID),
				slog.Any("error", markErr))
		}
		return "", models.ErrAdmissionDenied
	}

	return invite.Role, nil
}

// ConsumeForEmail marks the pending invite for email accepted once the
// admitted user exists, inside the admission transaction.
func (s *InviteService) ConsumeForEmail(ctx context.Context, q database.Querier, email, userID string) error {
	return s.inviteRepo.ConsumeByEmail(ctx, q, strings.ToLower(strings.TrimSpace(email)), userID)
}

// Revoke is the administrative terminal transition for a pending invite.
func (s *InviteService) Revoke(ctx context.Context, id, adminID string) error {
	if err := s.inviteRepo.Revoke(ctx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke invite", slog.String("invite_id", id), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogInviteEvent("invite_revoked", id, adminID, nil)
	return nil
}

// List returns invites for the admin surface.
func (s *InviteService) List(ctx context.Context, limit, offset int) ([]*models.Invite, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	invites, err := s.inviteRepo.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list invites", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return invites, nil
}
