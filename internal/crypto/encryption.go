package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort is returned when the input cannot even hold a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// Encryptor seals stored mail account passwords with AES-GCM.
// Every ciphertext is bound to an owner string (the account key) passed as associated data,
// so a sealed password copied to another account row fails to open.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates a new Encryptor from a base64 encoded 32-byte key.
func NewEncryptor(base64Key string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Seal encrypts plaintext for owner.
// The returned format is: [nonce][encrypted_data][auth_tag].
func (e *Encryptor) Seal(plaintext, owner string) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(owner)), nil
}

// Open decrypts a ciphertext produced by Seal for the same owner. It fails on a wrong key,
// a wrong owner or tampered data.
func (e *Encryptor) Open(ciphertext []byte, owner string) (string, error) {
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, []byte(owner))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
