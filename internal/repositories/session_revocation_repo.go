package repositories

import (
	"context"
	"time"

	"github.com/atriumhq/atrium/internal/database"
	"github.com/google/uuid"
)

// SessionRevocationRepository persists session invalidations. Individual
// logouts record a JTI; user-wide invalidations record a cut-off time that
// rejects every session issued before it.
type SessionRevocationRepository struct {
	db database.Querier
}

func NewSessionRevocationRepository(db *database.DB) *SessionRevocationRepository {
	return &SessionRevocationRepository{db: db.Pool}
}

// RevokeSession blacklists a single session by JTI.
func (r *SessionRevocationRepository) RevokeSession(ctx context.Context, jti, userID, tokenType string, expiresAt time.Time, reason string) error {
	query := `
		INSERT INTO revoked_sessions (id, jti, user_id, token_type, expires_at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Exec(ctx, query, uuid.New().String(), jti, userID, tokenType, expiresAt, reason)
	return database.MapPostgresError(err)
}

// RevokeAllUserSessions records a user-wide revocation cut-off.
func (r *SessionRevocationRepository) RevokeAllUserSessions(ctx context.Context, userID, reason string) error {
	return r.RevokeAllUserSessionsQ(ctx, r.db, userID, reason)
}

// RevokeAllUserSessionsQ is the transactional variant used by reset-consume,
// where password update, token consumption, and session invalidation must
// commit as a single unit.
func (r *SessionRevocationRepository) RevokeAllUserSessionsQ(ctx context.Context, q database.Querier, userID, reason string) error {
	query := `
		INSERT INTO revoked_sessions (id, jti, user_id, token_type, expires_at, reason)
		VALUES ($1, 'all-' || $2, $3, 'all', NOW() + INTERVAL '30 days', $4)
	`

	_, err := q.Exec(ctx, query, uuid.New().String(), uuid.New().String(), userID, reason)
	return database.MapPostgresError(err)
}

// IsSessionRevoked reports whether a session is invalid, either because its
// JTI was revoked or a user-wide revocation happened at or after its issuance.
func (r *SessionRevocationRepository) IsSessionRevoked(ctx context.Context, jti, userID string, issuedAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM revoked_sessions
			WHERE jti = $1
			   OR (user_id = $2 AND token_type = 'all' AND revoked_at >= $3)
		)
	`

	var revoked bool
	if err := r.db.QueryRow(ctx, query, jti, userID, issuedAt).Scan(&revoked); err != nil {
		return false, database.MapPostgresError(err)
	}

	return revoked, nil
}

// CleanupExpired removes revocation records past their expiry.
func (r *SessionRevocationRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM revoked_sessions WHERE expires_at < NOW()`

	result, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
