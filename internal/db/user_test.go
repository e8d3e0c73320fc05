package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/testutil"
)

func TestGetOrCreateUser(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	t.Run("creates new user", func(t *testing.T) {
		userID, err := GetOrCreateUser(ctx, pool, 1, "test@example.com")
		require.NoError(t, err)
		assert.NotEmpty(t, userID)
	})

	t.Run("returns existing user", func(t *testing.T) {
		userID1, err := GetOrCreateUser(ctx, pool, 1, "existing@example.com")
		require.NoError(t, err)

		userID2, err := GetOrCreateUser(ctx, pool, 1, "existing@example.com")
		require.NoError(t, err)

		assert.Equal(t, userID1, userID2)
	})

	t.Run("same email in another context is another user", func(t *testing.T) {
		userID1, err := GetOrCreateUser(ctx, pool, 1, "shared@example.com")
		require.NoError(t, err)

		userID2, err := GetOrCreateUser(ctx, pool, 2, "shared@example.com")
		require.NoError(t, err)

		assert.NotEqual(t, userID1, userID2)
	})
}
