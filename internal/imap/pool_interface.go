package imap

import (
	"github.com/emersion/go-imap/client"
)

// IMAPPool defines the interface for the IMAP connection pool.
// This allows the connector to be tested with other implementations.
// Note: The stutter in the naming is intentional because we have a struct called Pool.
//
//goland:noinspection GoNameStartsWithPackageName
type IMAPPool interface {
	// GetClient gets or creates an IMAP client for an account.
	// Callers must always call the returned release function when they are done with the client.
	GetClient(key, server, username, password string) (*client.Client, func(), error)

	// RemoveClient drops the connections of an account (useful when a connection is broken
	// or must not be reused).
	RemoveClient(key string)

	// Close closes all connections in the pool.
	Close()
}

// Ensure Pool implements IMAPPool interface
var _ IMAPPool = (*Pool)(nil)
