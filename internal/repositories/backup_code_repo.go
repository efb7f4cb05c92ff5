package repositories

import (
	"context"
	"fmt"

	"github.com/atriumhq/atrium/internal/database"
	"github.com/google/uuid"
)

// BackupCodeRepository handles MFA backup code data access
type BackupCodeRepository struct {
	db database.Querier
}

func NewBackupCodeRepository(db *database.DB) *BackupCodeRepository {
	return &BackupCodeRepository{db: db.Pool}
}

// Replace deletes existing codes and inserts a fresh hashed batch. Runs on q
// so the batch commits atomically with MFA enablement.
func (r *BackupCodeRepository) Replace(ctx context.Context, q database.Querier, userID string, codeHashes []string) error {
	if _, err := q.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return database.MapPostgresError(err)
	}

	query := `
		INSERT INTO mfa_backup_codes (id, user_id, code_hash)
		VALUES ($1, $2, $3)
	`

	for _, hash := range codeHashes {
		if _, err := q.Exec(ctx, query, uuid.New().String(), userID, hash); err != nil {
			return fmt.Errorf("failed to insert backup code: %w", database.MapPostgresError(err))
		}
	}

	return nil
}

// Consume marks a single unused code as used. The conditional UPDATE keyed on
// (user_id, code_hash, used_at IS NULL) is atomic: two concurrent attempts
// with the same code cannot both succeed.
func (r *BackupCodeRepository) Consume(ctx context.Context, userID, codeHash string) (bool, error) {
	query := `
		UPDATE mfa_backup_codes SET used_at = NOW()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`

	result, err := r.db.Exec(ctx, query, userID, codeHash)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 1, nil
}

// CountRemaining returns the number of unused codes for a user.
func (r *BackupCodeRepository) CountRemaining(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// DeleteForUser removes all codes, used by MFA disable.
func (r *BackupCodeRepository) DeleteForUser(ctx context.Context, q database.Querier, userID string) error {
	_, err := q.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID)
	return database.MapPostgresError(err)
}
