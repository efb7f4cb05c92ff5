package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, password_hash, name, role, status, mfa_status,
	mfa_secret_encrypted, mfa_secret_nonce, mfa_enrolled_at, password_changed_at,
	created_at, updated_at`

type UserRepository struct {
	db database.Querier
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string
	var mfaEnrolledAt, passwordChangedAt *time.Time

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.Name,
		&user.Role, &user.Status, &user.MFAStatus,
		&user.MFASecretEncrypted, &user.MFASecretNonce,
		&mfaEnrolledAt, &passwordChangedAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	user.MFAEnrolledAt = mfaEnrolledAt
	user.PasswordChangedAt = passwordChangedAt

	return &user, nil
}

func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

// Create inserts a new user. Uses q so account creation can participate in the
// same transaction as invite consumption.
func (r *UserRepository) Create(ctx context.Context, q database.Querier, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}
	if user.MFAStatus == "" {
		user.MFAStatus = models.MFADisabled
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, role, status, mfa_status, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + userColumns

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	return scanUserRow(q.QueryRow(ctx, query,
		user.ID, user.Email, passwordHash, user.Name,
		user.Role, user.Status, user.MFAStatus,
		user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

func (r *UserRepository) Update(ctx context.Context, id string, user *models.User) (*models.User, error) {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users SET name = $1, role = $2, status = $3, updated_at = $4
		WHERE id = $5
		RETURNING ` + userColumns

	return scanUserRow(r.db.QueryRow(ctx, query,
		user.Name, user.Role, user.Status, user.UpdatedAt, id,
	))
}

// UpdatePassword sets a new password hash and stamps password_changed_at,
// which rejects any session issued before the change. Runs on q so it can be
// part of the reset-consume transaction.
func (r *UserRepository) UpdatePassword(ctx context.Context, q database.Querier, id, passwordHash string) error {
	query := `
		UPDATE users SET password_hash = $1, password_changed_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`

	result, err := q.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetMFAPending stores a freshly provisioned, unconfirmed TOTP secret.
// Pending secrets are never accepted for login verification.
func (r *UserRepository) SetMFAPending(ctx context.Context, id string, encrypted, nonce []byte) error {
	query := `
		UPDATE users
		SET mfa_status = $1, mfa_secret_encrypted = $2, mfa_secret_nonce = $3, mfa_enrolled_at = NULL, updated_at = NOW()
		WHERE id = $4 AND mfa_status <> $5
	`

	result, err := r.db.Exec(ctx, query, models.MFAPending, encrypted, nonce, id, models.MFAEnabled)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrMFAAlreadyEnabled
	}

	return nil
}

// EnableMFA promotes a pending secret to enabled. Runs on q so enabling and
// backup-code insertion commit together.
func (r *UserRepository) EnableMFA(ctx context.Context, q database.Querier, id string) error {
	query := `
		UPDATE users SET mfa_status = $1, mfa_enrolled_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND mfa_status = $3
	`

	result, err := q.Exec(ctx, query, models.MFAEnabled, id, models.MFAPending)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrMFANoPendingSetup
	}

	return nil
}

// DisableMFA clears all MFA state for a user.
func (r *UserRepository) DisableMFA(ctx context.Context, q database.Querier, id string) error {
	query := `
		UPDATE users
		SET mfa_status = $1, mfa_secret_encrypted = NULL, mfa_secret_nonce = NULL, mfa_enrolled_at = NULL, updated_at = NOW()
		WHERE id = $2
	`

	result, err := q.Exec(ctx, query, models.MFADisabled, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
