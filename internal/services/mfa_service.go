package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	pkgauth "github.com/atriumhq/atrium/pkg/auth"
	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

// MFAUserStore is the slice of the user repository the MFA flows need
type MFAUserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetMFAPending(ctx context.Context, id string, encrypted, nonce []byte) error
	EnableMFA(ctx context.Context, q database.Querier, id string) error
	DisableMFA(ctx context.Context, q database.Querier, id string) error
}

// BackupCodeStore defines the interface for backup code data access
type BackupCodeStore interface {
	Replace(ctx context.Context, q database.Querier, userID string, codeHashes []string) error
	Consume(ctx context.Context, userID, codeHash string) (bool, error)
	CountRemaining(ctx context.Context, userID string) (int, error)
	DeleteForUser(ctx context.Context, q database.Querier, userID string) error
}

// MFAConfig holds MFA policy constants
type MFAConfig struct {
	BackupCodeCount int
}

// MFAService handles the TOTP enrollment lifecycle and second-factor
// verification, including one-shot backup codes.
type MFAService struct {
	userRepo    MFAUserStore
	backupCodes BackupCodeStore
	totp        *auth.TOTPManager
	crypto      *auth.TokenCrypto
	tx          TxRunner
	email       EmailService
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	config      MFAConfig
}

// NewMFAService creates a new MFAService
func NewMFAService(
	userRepo MFAUserStore,
	backupCodes BackupCodeStore,
	totp *auth.TOTPManager,
	crypto *auth.TokenCrypto,
	tx TxRunner,
	email EmailService,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	config MFAConfig,
) *MFAService {
	return &MFAService{
		userRepo:    userRepo,
		backupCodes: backupCodes,
		totp:        totp,
		crypto:      crypto,
		tx:          tx,
		email:       email,
		logger:      logger,
		audit:       audit,
		config:      config,
	}
}

// BeginSetup generates a new TOTP secret and moves the account into the
// pending enrollment state. Calling it again before confirmation replaces the
// pending secret; calling it with MFA already enabled fails.
func (s *MFAService) BeginSetup(ctx context.Context, userID string) (*models.MFASetup, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.MFAStatus == models.MFAEnabled {
		return nil, models.ErrMFAAlreadyEnabled
	}

	encrypted, nonce, rawSecret, uri, qrDataURL, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.userRepo.SetMFAPending(ctx, userID, encrypted, nonce); err != nil {
		s.logger.Error("failed to store pending MFA secret", slog.Any("error", err))
		return nil, err
	}

	return &models.MFASetup{
		Secret:          rawSecret,
		ProvisioningURI: uri,
		QRCode:          qrDataURL,
	}, nil
}

// ConfirmSetup proves possession of the enrolled authenticator and activates
// MFA. Enablement and the backup code batch commit together; the raw codes
// are returned exactly once and only hashes persist.
func (s *MFAService) ConfirmSetup(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch user.MFAStatus {
	case models.MFAEnabled:
		return nil, models.ErrMFAAlreadyEnabled
	case models.MFADisabled:
		return nil, models.ErrMFANoPendingSetup
	}

	secret, err := s.totp.DecryptSecret(user.MFASecretEncrypted, user.MFASecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt pending MFA secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		s.logger.Error("failed to validate TOTP code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_setup_confirm",
			UserID:        userID,
			Success:       false,
			FailureReason: "invalid_totp_code",
		})
		return nil, models.ErrMFAInvalidCode
	}

	codes, err := auth.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = s.crypto.HashToken(c)
	}

	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		if err := s.userRepo.EnableMFA(ctx, q, userID); err != nil {
			return err
		}
		return s.backupCodes.Replace(ctx, q, userID, hashes)
	})
	if err != nil {
		if errors.Is(err, models.ErrMFANoPendingSetup) {
			return nil, models.ErrMFANoPendingSetup
		}
		s.logger.Error("failed to enable MFA", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.email.Send(ctx, EmailKindMFAEnabled, user.Email, nil); err != nil {
		s.logger.Error("failed to send MFA enabled email", slog.Any("error", err))
	}

	s.audit.LogAccountAction("mfa_enabled", userID, "", nil)

	return codes, nil
}

// Verify checks a second-factor code for a fully enrolled account. Codes are
// dispatched by length: 6 digits go to TOTP, 8 characters to backup codes.
// A matched backup code is consumed and cannot be replayed.
func (s *MFAService) Verify(ctx context.Context, userID, code string) (*models.MFAVerification, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.MFAStatus != models.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}

	switch len(code) {
	case models.TOTPCodeLength:
		return s.verifyTOTP(ctx, user, code)
	case models.BackupCodeLength:
		return s.verifyBackupCode(ctx, user, code)
	default:
		return nil, models.ErrMFAInvalidCode
	}
}

func (s *MFAService) verifyTOTP(ctx context.Context, user *models.User, code string) (*models.MFAVerification, error) {
	secret, err := s.totp.DecryptSecret(user.MFASecretEncrypted, user.MFASecretNonce)
	if err != nil {
		s.logger.Error("failed to decrypt MFA secret", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	valid, err := s.totp.ValidateCode(secret, code)
	if err != nil {
		s.logger.Error("failed to validate TOTP code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_verify",
			UserID:        user.ID,
			Success:       false,
			FailureReason: "invalid_totp_code",
		})
		return nil, models.ErrMFAInvalidCode
	}

	return &models.MFAVerification{Verified: true}, nil
}

func (s *MFAService) verifyBackupCode(ctx context.Context, user *models.User, code string) (*models.MFAVerification, error) {
	consumed, err := s.backupCodes.Consume(ctx, user.ID, s.crypto.HashToken(code))
	if err != nil {
		s.logger.Error("failed to consume backup code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !consumed {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_verify",
			UserID:        user.ID,
			Success:       false,
			FailureReason: "invalid_backup_code",
		})
		return nil, models.ErrMFAInvalidBackupCode
	}

	remaining, err := s.backupCodes.CountRemaining(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to count remaining backup codes", slog.Any("error", err))
		remaining = -1
	}

	if remaining == 0 {
		s.logger.Warn("user exhausted backup codes", slog.String("user_id", user.ID))
	}

	return &models.MFAVerification{
		Verified:             true,
		UsedBackupCode:       true,
		BackupCodesRemaining: remaining,
	}, nil
}

// Disable turns MFA off after re-authenticating with the account password.
// The stored secret and every backup code are removed in one transaction.
func (s *MFAService) Disable(ctx context.Context, userID, password string) error {
	user, err := s.reauthenticate(ctx, userID, password)
	if err != nil {
		return err
	}

	if user.MFAStatus != models.MFAEnabled {
		return models.ErrMFANotEnabled
	}

	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		if err := s.userRepo.DisableMFA(ctx, q, userID); err != nil {
			return err
		}
		return s.backupCodes.DeleteForUser(ctx, q, userID)
	})
	if err != nil {
		s.logger.Error("failed to disable MFA", slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit.LogAccountAction("mfa_disabled", userID, "", nil)

	return nil
}

// RegenerateBackupCodes replaces every backup code with a fresh batch after
// re-authenticating with the account password. Old codes stop working.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	user, err := s.reauthenticate(ctx, userID, password)
	if err != nil {
		return nil, err
	}

	if user.MFAStatus != models.MFAEnabled {
		return nil, models.ErrMFANotEnabled
	}

	codes, err := auth.GenerateBackupCodes(s.config.BackupCodeCount)
	if err != nil {
		s.logger.Error("failed to generate backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = s.crypto.HashToken(c)
	}

	err = s.tx.RunTx(ctx, func(q database.Querier) error {
		return s.backupCodes.Replace(ctx, q, userID, hashes)
	})
	if err != nil {
		s.logger.Error("failed to replace backup codes", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit.LogAccountAction("mfa_backup_codes_regenerated", userID, "", nil)

	return codes, nil
}

func (s *MFAService) reauthenticate(ctx context.Context, userID, password string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !user.HasPassword() {
		return nil, models.ErrUnauthorized
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.audit.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "mfa_reauthentication",
			UserID:        userID,
			Success:       false,
			FailureReason: "invalid_password",
		})
		return nil, models.ErrUnauthorized
	}

	return user, nil
}
