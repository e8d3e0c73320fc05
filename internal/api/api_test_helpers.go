package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/auth"
	"github.com/vdavid/mailfolders/internal/crypto"
	"github.com/vdavid/mailfolders/internal/db"
	"github.com/vdavid/mailfolders/internal/foldercache"
	"github.com/vdavid/mailfolders/internal/models"
	"github.com/vdavid/mailfolders/internal/testutil"
)

const testContextID = 1

// setupTestAccount creates a test user and stores an account pointing at the given IMAP server.
// Returns the account's cache key.
func setupTestAccount(t *testing.T, pool *pgxpool.Pool, encryptor *crypto.Encryptor, email string, accountID int, host, username, password string) foldercache.AccountKey {
	t.Helper()
	ctx := context.Background()

	userID, err := db.GetOrCreateUser(ctx, pool, testContextID, email)
	require.NoError(t, err, "Failed to create user")

	key := foldercache.AccountKey{UserID: userID, ContextID: testContextID, AccountID: accountID}
	err = db.SaveAccount(ctx, pool, &models.Account{
		UserID:                userID,
		ContextID:             testContextID,
		AccountID:             accountID,
		DisplayName:           "Test account",
		IMAPServerHostname:    host,
		IMAPUsername:          username,
		EncryptedIMAPPassword: testutil.SealForAccount(t, encryptor, key, password),
	})
	require.NoError(t, err, "Failed to save account")

	return key
}

// createRequestWithUser creates an HTTP request with the user's identity in context.
func createRequestWithUser(method, url, email string) *http.Request {
	req := httptest.NewRequest(method, url, nil)
	ctx := context.WithValue(req.Context(), auth.IdentityKey, auth.Identity{Email: email, ContextID: testContextID})
	return req.WithContext(ctx)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no identity is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no identity in context")
}
