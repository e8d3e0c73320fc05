package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/crypto"
	"github.com/vdavid/mailfolders/internal/foldercache"
)

// TestEncryptionKey is a fixed AES-256 key (bytes 0x00..0x1f), base64 encoded.
const TestEncryptionKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

// GetTestEncryptor returns an encryptor using TestEncryptionKey.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKey)
	require.NoError(t, err, "Failed to create encryptor")
	return encryptor
}

// SealForAccount seals an IMAP password the way the account store keeps it for key.
func SealForAccount(t *testing.T, encryptor *crypto.Encryptor, key foldercache.AccountKey, password string) []byte {
	t.Helper()

	sealed, err := encryptor.Seal(password, key.String())
	require.NoError(t, err, "Failed to seal password")
	return sealed
}
