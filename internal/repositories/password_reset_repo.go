package repositories

import (
	"context"
	"time"

	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/google/uuid"
)

const resetColumns = `id, user_id, token_hash, expires_at, used_at, request_ip,
	request_user_agent, created_at`

// PasswordResetRepository handles reset token data access
type PasswordResetRepository struct {
	db database.Querier
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db.Pool}
}

func scanResetRow(scanner rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken
	var usedAt *time.Time

	err := scanner.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt,
		&usedAt, &token.RequestIP, &token.RequestUserAgent, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.UsedAt = usedAt
	return &token, nil
}

// Create inserts a new reset token record.
func (r *PasswordResetRepository) Create(ctx context.Context, q database.Querier, token *models.PasswordResetToken) (*models.PasswordResetToken, error) {
	token.ID = uuid.New().String()
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, request_ip, request_user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + resetColumns

	return scanResetRow(q.QueryRow(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt,
		token.RequestIP, token.RequestUserAgent, token.CreatedAt,
	))
}

// GetUsableByTokenHash returns a token only if it is unused and unexpired.
func (r *PasswordResetRepository) GetUsableByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT ` + resetColumns + `
		FROM password_reset_tokens
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
	`

	return scanResetRow(r.db.QueryRow(ctx, query, tokenHash))
}

// InvalidateForUser marks every unused token for a user as used, enforcing
// the at-most-one-usable-token invariant at issuance time.
func (r *PasswordResetRepository) InvalidateForUser(ctx context.Context, q database.Querier, userID string) error {
	query := `
		UPDATE password_reset_tokens SET used_at = NOW()
		WHERE user_id = $1 AND used_at IS NULL
	`

	_, err := q.Exec(ctx, query, userID)
	return database.MapPostgresError(err)
}

// MarkUsed consumes a token exactly once: the conditional UPDATE reports
// ErrResetTokenInvalid when the token was already consumed or has expired.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, q database.Querier, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		UPDATE password_reset_tokens SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING ` + resetColumns

	token, err := scanResetRow(q.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrResetTokenInvalid
		}
		return nil, err
	}

	return token, nil
}

// CleanupExpired removes reset tokens past their expiry.
func (r *PasswordResetRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM password_reset_tokens WHERE expires_at < NOW()`

	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
