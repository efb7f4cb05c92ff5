package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

// Function-field mocks: each test assigns only the methods it expects to be
// called and leaves the rest nil so an unexpected call panics.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

type mockUserRepo struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	CreateFunc         func(ctx context.Context, q database.Querier, user *models.User) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, q database.Querier, id, passwordHash string) error
	SetMFAPendingFunc  func(ctx context.Context, id string, encrypted, nonce []byte) error
	EnableMFAFunc      func(ctx context.Context, q database.Querier, id string) error
	DisableMFAFunc     func(ctx context.Context, q database.Querier, id string) error
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return m.GetByIDFunc(ctx, id)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.GetByEmailFunc(ctx, email)
}

func (m *mockUserRepo) Create(ctx context.Context, q database.Querier, user *models.User) (*models.User, error) {
	return m.CreateFunc(ctx, q, user)
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, q database.Querier, id, passwordHash string) error {
	return m.UpdatePasswordFunc(ctx, q, id, passwordHash)
}

func (m *mockUserRepo) SetMFAPending(ctx context.Context, id string, encrypted, nonce []byte) error {
	return m.SetMFAPendingFunc(ctx, id, encrypted, nonce)
}

func (m *mockUserRepo) EnableMFA(ctx context.Context, q database.Querier, id string) error {
	return m.EnableMFAFunc(ctx, q, id)
}

func (m *mockUserRepo) DisableMFA(ctx context.Context, q database.Querier, id string) error {
	return m.DisableMFAFunc(ctx, q, id)
}

type mockInviteRepo struct {
	CreateFunc            func(ctx context.Context, invite *models.Invite) (*models.Invite, error)
	GetByTokenHashFunc    func(ctx context.Context, tokenHash string) (*models.Invite, error)
	GetByIDFunc           func(ctx context.Context, id string) (*models.Invite, error)
	GetPendingByEmailFunc func(ctx context.Context, email string) (*models.Invite, error)
	ListFunc              func(ctx context.Context, limit, offset int) ([]*models.Invite, error)
	MarkExpiredFunc       func(ctx context.Context, id string) error
	ConsumeFunc           func(ctx context.Context, q database.Querier, tokenHash, consumedBy string) error
	ConsumeByEmailFunc    func(ctx context.Context, q database.Querier, email, consumedBy string) error
	RotateTokenFunc       func(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*models.Invite, error)
	DeleteFunc            func(ctx context.Context, id string) error
	RevokeFunc            func(ctx context.Context, id string) error
	SweepExpiredFunc      func(ctx context.Context) (int64, error)
}

func (m *mockInviteRepo) Create(ctx context.Context, invite *models.Invite) (*models.Invite, error) {
	return m.CreateFunc(ctx, invite)
}

func (m *mockInviteRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invite, error) {
	return m.GetByTokenHashFunc(ctx, tokenHash)
}

func (m *mockInviteRepo) GetByID(ctx context.Context, id string) (*models.Invite, error) {
	return m.GetByIDFunc(ctx, id)
}

func (m *mockInviteRepo) GetPendingByEmail(ctx context.Context, email string) (*models.Invite, error) {
	return m.GetPendingByEmailFunc(ctx, email)
}

func (m *mockInviteRepo) List(ctx context.Context, limit, offset int) ([]*models.Invite, error) {
	return m.ListFunc(ctx, limit, offset)
}

func (m *mockInviteRepo) MarkExpired(ctx context.Context, id string) error {
	return m.MarkExpiredFunc(ctx, id)
}

func (m *mockInviteRepo) Consume(ctx context.Context, q database.Querier, tokenHash, consumedBy string) error {
	return m.ConsumeFunc(ctx, q, tokenHash, consumedBy)
}

func (m *mockInviteRepo) ConsumeByEmail(ctx context.Context, q database.Querier, email, consumedBy string) error {
	return m.ConsumeByEmailFunc(ctx, q, email, consumedBy)
}

func (m *mockInviteRepo) RotateToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*models.Invite, error) {
	return m.RotateTokenFunc(ctx, id, tokenHash, expiresAt)
}

func (m *mockInviteRepo) Delete(ctx context.Context, id string) error {
	return m.DeleteFunc(ctx, id)
}

func (m *mockInviteRepo) Revoke(ctx context.Context, id string) error {
	return m.RevokeFunc(ctx, id)
}

func (m *mockInviteRepo) SweepExpired(ctx context.Context) (int64, error) {
	return m.SweepExpiredFunc(ctx)
}

type mockResetRepo struct {
	CreateFunc               func(ctx context.Context, q database.Querier, token *models.PasswordResetToken) (*models.PasswordResetToken, error)
	GetUsableByTokenHashFunc func(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	InvalidateForUserFunc    func(ctx context.Context, q database.Querier, userID string) error
	MarkUsedFunc             func(ctx context.Context, q database.Querier, tokenHash string) (*models.PasswordResetToken, error)
	CleanupExpiredFunc       func(ctx context.Context) (int64, error)
}

func (m *mockResetRepo) Create(ctx context.Context, q database.Querier, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	return m.CreateFunc(ctx, q, token)
}

func (m *mockResetRepo) GetUsableByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	return m.GetUsableByTokenHashFunc(ctx, tokenHash)
}

func (m *mockResetRepo) InvalidateForUser(ctx context.Context, q database.Querier, userID string) error {
	return m.InvalidateForUserFunc(ctx, q, userID)
}

func (m *mockResetRepo) MarkUsed(ctx context.Context, q database.Querier, tokenHash string) (*models.PasswordResetToken, error) {
	return m.MarkUsedFunc(ctx, q, tokenHash)
}

func (m *mockResetRepo) CleanupExpired(ctx context.Context) (int64, error) {
	return m.CleanupExpiredFunc(ctx)
}

type mockBackupCodeRepo struct {
	ReplaceFunc        func(ctx context.Context, q database.Querier, userID string, codeHashes []string) error
	ConsumeFunc        func(ctx context.Context, userID, codeHash string) (bool, error)
	CountRemainingFunc func(ctx context.Context, userID string) (int, error)
	DeleteForUserFunc  func(ctx context.Context, q database.Querier, userID string) error
}

func (m *mockBackupCodeRepo) Replace(ctx context.Context, q database.Querier, userID string, codeHashes []string) error {
	return m.ReplaceFunc(ctx, q, userID, codeHashes)
}

func (m *mockBackupCodeRepo) Consume(ctx context.Context, userID, codeHash string) (bool, error) {
	return m.ConsumeFunc(ctx, userID, codeHash)
}

func (m *mockBackupCodeRepo) CountRemaining(ctx context.Context, userID string) (int, error) {
	return m.CountRemainingFunc(ctx, userID)
}

func (m *mockBackupCodeRepo) DeleteForUser(ctx context.Context, q database.Querier, userID string) error {
	return m.DeleteForUserFunc(ctx, q, userID)
}

type mockExternalAccountRepo struct {
	CreateFunc          func(ctx context.Context, q database.Querier, account *models.ExternalAccount) (*models.ExternalAccount, error)
	GetByProviderIDFunc func(ctx context.Context, provider, providerID string) (*models.ExternalAccount, error)
	CountForUserFunc    func(ctx context.Context, userID string) (int, error)
	DeleteFunc          func(ctx context.Context, userID, provider string) error
}

func (m *mockExternalAccountRepo) Create(ctx context.Context, q database.Querier, account *models.ExternalAccount) (*models.ExternalAccount, error) {
	return m.CreateFunc(ctx, q, account)
}

func (m *mockExternalAccountRepo) GetByProviderID(ctx context.Context, provider, providerID string) (*models.ExternalAccount, error) {
	return m.GetByProviderIDFunc(ctx, provider, providerID)
}

func (m *mockExternalAccountRepo) CountForUser(ctx context.Context, userID string) (int, error) {
	return m.CountForUserFunc(ctx, userID)
}

func (m *mockExternalAccountRepo) Delete(ctx context.Context, userID, provider string) error {
	return m.DeleteFunc(ctx, userID, provider)
}

type mockSessionInvalidator struct {
	RevokeAllUserSessionsQFunc func(ctx context.Context, q database.Querier, userID, reason string) error
}

func (m *mockSessionInvalidator) RevokeAllUserSessionsQ(ctx context.Context, q database.Querier, userID, reason string) error {
	return m.RevokeAllUserSessionsQFunc(ctx, q, userID, reason)
}

type mockRevocationStore struct {
	RevokeSessionFunc         func(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error
	RevokeAllUserSessionsFunc func(ctx context.Context, userID, reason string) error
	IsSessionRevokedFunc      func(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error)
}

func (m *mockRevocationStore) RevokeSession(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	if m.RevokeSessionFunc == nil {
		return nil
	}
	return m.RevokeSessionFunc(ctx, jti, userID, tokenType, expiresAt, reason)
}

func (m *mockRevocationStore) RevokeAllUserSessions(ctx context.Context, userID, reason string) error {
	if m.RevokeAllUserSessionsFunc == nil {
		return nil
	}
	return m.RevokeAllUserSessionsFunc(ctx, userID, reason)
}

func (m *mockRevocationStore) IsSessionRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error) {
	if m.IsSessionRevokedFunc == nil {
		return false, nil
	}
	return m.IsSessionRevokedFunc(ctx, jti, userID, issuedAt)
}

type mockSecondFactorVerifier struct {
	VerifyFunc func(ctx context.Context, userID, code string) (*models.MFAVerification, error)
}

func (m *mockSecondFactorVerifier) Verify(ctx context.Context, userID, code string) (*models.MFAVerification, error) {
	return m.VerifyFunc(ctx, userID, code)
}

// mockTxRunner runs the callback directly with a nil Querier. Mock
// repositories ignore the Querier argument entirely.
type mockTxRunner struct{}

func (m *mockTxRunner) RunTx(ctx context.Context, fn func(database.Querier) error) error {
	return fn(nil)
}

// allowAllLimiter never throttles
type allowAllLimiter struct{}

func (allowAllLimiter) Allow(key string) bool { return true }

// denyAllLimiter always throttles
type denyAllLimiter struct{}

func (denyAllLimiter) Allow(key string) bool { return false }

type sentEmail struct {
	kind      string
	recipient string
	params    map[string]string
}

// mockEmailService records sent messages and can be made to fail
type mockEmailService struct {
	sent    []sentEmail
	sendErr error
}

func (m *mockEmailService) Send(ctx context.Context, kind, recipient string, params map[string]string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentEmail{kind: kind, recipient: recipient, params: params})
	return nil
}
