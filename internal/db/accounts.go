package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailfolders/internal/models"
)

// ErrAccountNotFound is returned when no account row exists for (user, context, account).
var ErrAccountNotFound = errors.New("account not found")

// GetAccount returns one mail account of a user.
func GetAccount(ctx context.Context, pool *pgxpool.Pool, userID string, contextID, accountID int) (*models.Account, error) {
	var acc models.Account

	err := pool.QueryRow(ctx, `
		SELECT
			user_id,
			context_id,
			account_id,
			display_name,
			imap_server_hostname,
			imap_username,
			encrypted_imap_password,
			created_at,
			updated_at
		FROM accounts
		WHERE user_id = $1 AND context_id = $2 AND account_id = $3
	`, userID, contextID, accountID).Scan(
		&acc.UserID,
		&acc.ContextID,
		&acc.AccountID,
		&acc.DisplayName,
		&acc.IMAPServerHostname,
		&acc.IMAPUsername,
		&acc.EncryptedIMAPPassword,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &acc, nil
}

// ListAccountIDs returns the account ids of a user in ascending order.
func ListAccountIDs(ctx context.Context, pool *pgxpool.Pool, userID string, contextID int) ([]int, error) {
	rows, err := pool.Query(ctx, `
		SELECT account_id
		FROM accounts
		WHERE user_id = $1 AND context_id = $2
		ORDER BY account_id
	`, userID, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	return ids, nil
}

// SaveAccount inserts or updates an account.
func SaveAccount(ctx context.Context, pool *pgxpool.Pool, acc *models.Account) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO accounts (
			user_id,
			context_id,
			account_id,
			display_name,
			imap_server_hostname,
			imap_username,
			encrypted_imap_password
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, context_id, account_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			imap_server_hostname = EXCLUDED.imap_server_hostname,
			imap_username = EXCLUDED.imap_username,
			encrypted_imap_password = EXCLUDED.encrypted_imap_password,
			updated_at = NOW()
	`,
		acc.UserID,
		acc.ContextID,
		acc.AccountID,
		acc.DisplayName,
		acc.IMAPServerHostname,
		acc.IMAPUsername,
		acc.EncryptedIMAPPassword,
	)

	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// DeleteAccount removes an account. Deleting a missing account is not an error.
func DeleteAccount(ctx context.Context, pool *pgxpool.Pool, userID string, contextID, accountID int) error {
	_, err := pool.Exec(ctx, `
		DELETE FROM accounts WHERE user_id = $1 AND context_id = $2 AND account_id = $3
	`, userID, contextID, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// AccountStore serves account lookups from a connection pool.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a store backed by pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// GetAccount returns one mail account of a user, or ErrAccountNotFound.
func (s *AccountStore) GetAccount(ctx context.Context, userID string, contextID, accountID int) (*models.Account, error) {
	return GetAccount(ctx, s.pool, userID, contextID, accountID)
}
