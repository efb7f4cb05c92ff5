package repositories

import (
	"context"
	"time"

	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/google/uuid"
)

const externalAccountColumns = `id, user_id, provider, provider_id, email, created_at`

// ExternalAccountRepository handles linked external identity data access
type ExternalAccountRepository struct {
	db database.Querier
}

func NewExternalAccountRepository(db *database.DB) *ExternalAccountRepository {
	return &ExternalAccountRepository{db: db.Pool}
}

func scanExternalAccountRow(scanner rowScanner) (*models.ExternalAccount, error) {
	var account models.ExternalAccount

	err := scanner.Scan(
		&account.ID, &account.UserID, &account.Provider,
		&account.ProviderID, &account.Email, &account.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &account, nil
}

// Create links an external identity to a user. Runs on q so first-sign-in
// admission commits the link with user creation and invite consumption.
func (r *ExternalAccountRepository) Create(ctx context.Context, q database.Querier, account *models.ExternalAccount) (*models.ExternalAccount, error) {
	account.ID = uuid.New().String()
	account.CreatedAt = time.Now()

	query := `
		INSERT INTO external_accounts (id, user_id, provider, provider_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + externalAccountColumns

	return scanExternalAccountRow(q.QueryRow(ctx, query,
		account.ID, account.UserID, account.Provider,
		account.ProviderID, account.Email, account.CreatedAt,
	))
}

func (r *ExternalAccountRepository) GetByProviderID(ctx context.Context, provider, providerID string) (*models.ExternalAccount, error) {
	query := `SELECT ` + externalAccountColumns + ` FROM external_accounts WHERE provider = $1 AND provider_id = $2`
	return scanExternalAccountRow(r.db.QueryRow(ctx, query, provider, providerID))
}

// CountForUser returns the number of linked identities, used to enforce the
// password-or-identity invariant on disconnect.
func (r *ExternalAccountRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM external_accounts WHERE user_id = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

// Delete unlinks a provider from a user.
func (r *ExternalAccountRepository) Delete(ctx context.Context, userID, provider string) error {
	query := `DELETE FROM external_accounts WHERE user_id = $1 AND provider = $2`

	result, err := r.db.Exec(ctx, query, userID, provider)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
