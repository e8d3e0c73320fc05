package imap

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
)

const (
	dialTimeout = 5 * time.Second
	// commandTimeout bounds every round trip on a pooled connection.
	commandTimeout = 30 * time.Second
)

// pooledClient wraps an IMAP client with a mutex for thread-safe access.
// Each connection has its own mutex to allow concurrent access to different connections
// while serializing access to the same connection.
type pooledClient struct {
	client   *client.Client
	mu       sync.Mutex
	lastUsed time.Time
}

// Lock acquires the mutex for thread-safe access to the underlying client.
func (c *pooledClient) Lock() {
	c.mu.Lock()
}

// TryLock acquires the mutex if it is free.
func (c *pooledClient) TryLock() bool {
	return c.mu.TryLock()
}

// Unlock releases the mutex.
func (c *pooledClient) Unlock() {
	c.mu.Unlock()
}

// GetClient returns the underlying IMAP client.
// Caller must hold the lock before calling this.
func (c *pooledClient) GetClient() *client.Client {
	return c.client
}

// UpdateLastUsed updates the lastUsed timestamp to now.
func (c *pooledClient) UpdateLastUsed() {
	c.lastUsed = time.Now()
}

// GetLastUsed returns the lastUsed timestamp.
func (c *pooledClient) GetLastUsed() time.Time {
	return c.lastUsed
}

// ConnectToIMAP connects to the IMAP server with a 5-second timeout.
// useTLS: true for production (TLS), false for tests (non-TLS).
func ConnectToIMAP(server string, useTLS bool) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: dialTimeout,
	}

	var c *client.Client
	var err error
	if useTLS {
		c, err = client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
	} else {
		// Non-TLS connection for testing
		c, err = client.DialWithDialer(dialer, server)
		if err != nil {
			return nil, fmt.Errorf("failed to dial: %w", err)
		}
	}

	c.Timeout = commandTimeout
	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	return nil
}
