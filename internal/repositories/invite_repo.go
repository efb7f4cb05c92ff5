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

const inviteColumns = `id, email, token_hash, status, role, message, invited_by,
	consumed_by, expires_at, used_at, created_at`

type InviteRepository struct {
	db database.Querier
}

func NewInviteRepository(db *database.DB) *InviteRepository {
	return &InviteRepository{db: db.Pool}
}

func scanInviteRow(scanner rowScanner) (*models.Invite, error) {
	var invite models.Invite
	var message, consumedBy *string
	var usedAt *time.Time

	err := scanner.Scan(
		&invite.ID, &invite.Email, &invite.TokenHash, &invite.Status,
		&invite.Role, &message, &invite.InvitedBy, &consumedBy,
		&invite.ExpiresAt, &usedAt, &invite.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	invite.Message = message
	invite.ConsumedBy = consumedBy
	invite.UsedAt = usedAt

	return &invite, nil
}

func scanInviteRows(rows pgx.Rows) ([]*models.Invite, error) {
	defer rows.Close()

	invites := make([]*models.Invite, 0)

	for rows.Next() {
		invite, err := scanInviteRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, invite)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invite rows: %w", err)
	}

	return invites, nil
}

// Create inserts a new pending invite. A partial unique index on
// (email) WHERE status = 'pending' turns concurrent duplicate creations into
// ErrConflict instead of letting both commit.
func (r *InviteRepository) Create(ctx context.Context, invite *models.Invite) (*models.Invite, error) {
	invite.ID = uuid.New().String()
	invite.Status = models.InvitePending
	invite.CreatedAt = time.Now()

	query := `
		INSERT INTO invites (id, email, token_hash, status, role, message, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + inviteColumns

	return scanInviteRow(r.db.QueryRow(ctx, query,
		invite.ID, invite.Email, invite.TokenHash, invite.Status,
		invite.Role, invite.Message, invite.InvitedBy, invite.ExpiresAt, invite.CreatedAt,
	))
}

func (r *InviteRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE token_hash = $1`
	return scanInviteRow(r.db.QueryRow(ctx, query, tokenHash))
}

func (r *InviteRepository) GetByID(ctx context.Context, id string) (*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE id = $1`
	return scanInviteRow(r.db.QueryRow(ctx, query, id))
}

// GetPendingByEmail returns the pending invite for an email if one exists,
// including one past its expiry that has not been swept yet. Callers apply
// expiry policy: the issuance path must see a stale pending row so it can
// expire it instead of tripping the partial unique index.
func (r *InviteRepository) GetPendingByEmail(ctx context.Context, email string) (*models.Invite, error) {
	query := `
		SELECT ` + inviteColumns + `
		FROM invites
		WHERE email = $1 AND status = $2
	`

	return scanInviteRow(r.db.QueryRow(ctx, query, email, models.InvitePending))
}

func (r *InviteRepository) List(ctx context.Context, limit, offset int) ([]*models.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM invites ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query invites: %w", err)
	}

	return scanInviteRows(rows)
}

// MarkExpired applies the lazy pending -> expired transition. A no-op when the
// invite has already left the pending state.
func (r *InviteRepository) MarkExpired(ctx context.Context, id string) error {
	query := `UPDATE invites SET status = $1 WHERE id = $2 AND status = $3`

	_, err := r.db.Exec(ctx, query, models.InviteExpired, id, models.InvitePending)
	return database.MapPostgresError(err)
}

// Consume transitions a pending, unexpired invite to accepted exactly once.
// The conditional UPDATE makes a second consume of the same token report
// ErrInviteUsed rather than succeeding twice. Runs on q so it commits in the
// same transaction as user creation.
func (r *InviteRepository) Consume(ctx context.Context, q database.Querier, tokenHash, consumedBy string) error {
	query := `
		UPDATE invites
		SET status = $1, used_at = NOW(), consumed_by = $2
		WHERE token_hash = $3 AND status = $4 AND expires_at > NOW()
	`

	result, err := q.Exec(ctx, query, models.InviteAccepted, consumedBy, tokenHash, models.InvitePending)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrInviteUsed
	}

	return nil
}

// ConsumeByEmail accepts the pending invite for an email, used by the
// external-identity admission path where the consumer is assigned in the same
// transaction once the user row exists.
func (r *InviteRepository) ConsumeByEmail(ctx context.Context, q database.Querier, email, consumedBy string) error {
	query := `
		UPDATE invites
		SET status = $1, used_at = NOW(), consumed_by = $2
		WHERE email = $3 AND status = $4 AND expires_at > NOW()
	`

	result, err := q.Exec(ctx, query, models.InviteAccepted, consumedBy, email, models.InvitePending)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrAdmissionDenied
	}

	return nil
}

// RotateToken replaces the token hash and extends expiry on a pending invite.
// Tokens are hashed at rest, so the idempotent self-service resend mints a
// fresh raw token rather than re-sending one that cannot be recovered.
func (r *InviteRepository) RotateToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) (*models.Invite, error) {
	query := `
		UPDATE invites SET token_hash = $1, expires_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + inviteColumns

	return scanInviteRow(r.db.QueryRow(ctx, query, tokenHash, expiresAt, id, models.InvitePending))
}

// Delete removes an invite, used to roll back issuance when the notification
// dispatch fails.
func (r *InviteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM invites WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Revoke is the explicit administrative terminal transition.
func (r *InviteRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE invites SET status = $1 WHERE id = $2 AND status = $3`

	result, err := r.db.Exec(ctx, query, models.InviteRevoked, id, models.InvitePending)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SweepExpired bulk-applies the lazy expiry transition to pending invites
// whose expiry has passed. Called from the background cleanup loop.
func (r *InviteRepository) SweepExpired(ctx context.Context) (int64, error) {
	query := `UPDATE invites SET status = $1 WHERE status = $2 AND expires_at < NOW()`

	result, err := r.db.Exec(ctx, query, models.InviteExpired, models.InvitePending)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}
