package models

import (
	"time"
)

// User is a mail user within one context (tenant).
type User struct {
	ID        string    `json:"id"`
	ContextID int       `json:"context_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account is one IMAP account of a user. Account 0 is the primary account.
type Account struct {
	UserID                string    `json:"user_id"`
	ContextID             int       `json:"context_id"`
	AccountID             int       `json:"account_id"`
	DisplayName           string    `json:"display_name"`
	IMAPServerHostname    string    `json:"imap_server_hostname"`
	IMAPUsername          string    `json:"imap_username"`
	EncryptedIMAPPassword []byte    `json:"-"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
