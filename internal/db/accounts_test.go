package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/models"
	"github.com/vdavid/mailfolders/internal/testutil"
)

func TestAccounts(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	userID, err := GetOrCreateUser(ctx, pool, 1, "accounts@example.com")
	require.NoError(t, err)

	t.Run("missing account", func(t *testing.T) {
		_, err := GetAccount(ctx, pool, userID, 1, 0)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("save and get", func(t *testing.T) {
		acc := &models.Account{
			UserID:                userID,
			ContextID:             1,
			AccountID:             0,
			DisplayName:           "Primary",
			IMAPServerHostname:    "imap.example.com:993",
			IMAPUsername:          "accounts@example.com",
			EncryptedIMAPPassword: []byte{1, 2, 3},
		}
		require.NoError(t, SaveAccount(ctx, pool, acc))

		got, err := NewAccountStore(pool).GetAccount(ctx, userID, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, "Primary", got.DisplayName)
		assert.Equal(t, "imap.example.com:993", got.IMAPServerHostname)
		assert.Equal(t, []byte{1, 2, 3}, got.EncryptedIMAPPassword)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("save updates existing", func(t *testing.T) {
		acc := &models.Account{
			UserID:                userID,
			ContextID:             1,
			AccountID:             0,
			IMAPServerHostname:    "imap2.example.com:993",
			IMAPUsername:          "accounts@example.com",
			EncryptedIMAPPassword: []byte{4},
		}
		require.NoError(t, SaveAccount(ctx, pool, acc))

		got, err := GetAccount(ctx, pool, userID, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, "imap2.example.com:993", got.IMAPServerHostname)
		assert.Equal(t, []byte{4}, got.EncryptedIMAPPassword)
	})

	t.Run("list and delete", func(t *testing.T) {
		require.NoError(t, SaveAccount(ctx, pool, &models.Account{
			UserID:                userID,
			ContextID:             1,
			AccountID:             3,
			IMAPServerHostname:    "other.example.com:993",
			IMAPUsername:          "other",
			EncryptedIMAPPassword: []byte{5},
		}))

		ids, err := ListAccountIDs(ctx, pool, userID, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 3}, ids)

		require.NoError(t, DeleteAccount(ctx, pool, userID, 1, 3))
		require.NoError(t, DeleteAccount(ctx, pool, userID, 1, 3))

		ids, err = ListAccountIDs(ctx, pool, userID, 1)
		require.NoError(t, err)
		assert.Equal(t, []int{0}, ids)
	})
}
