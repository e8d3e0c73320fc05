package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// GetOrCreateUser returns the user's id for the given email within a context.
// If no user exists with that email, it creates a new one.
func GetOrCreateUser(ctx context.Context, pool *pgxpool.Pool, contextID int, email string) (string, error) {
	var userID string

	err := pool.QueryRow(ctx, `
		INSERT INTO users (context_id, email)
		VALUES ($1, $2)
		ON CONFLICT (context_id, email) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, contextID, email).Scan(&userID)

	if err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}

	return userID, nil
}
