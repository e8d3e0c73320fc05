package testutil

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/require"
)

// The memory backend ships with a single user.
const (
	testIMAPUsername = "username"
	testIMAPPassword = "password"
)

// TestIMAPServer is a plain-text IMAP server on a loopback port, backed by go-imap's in-memory
// backend. Its hierarchy delimiter is "/". It supports neither NAMESPACE nor SPECIAL-USE.
type TestIMAPServer struct {
	Server  *server.Server
	Address string
	Backend *memory.Backend

	closeOnce sync.Once
}

// NewTestIMAPServer starts a server and stops it when the test finishes. Calling Close earlier
// is allowed.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "Failed to listen")

	// Serve fails once Close shuts the listener; nothing to report then.
	go func() { _ = s.Serve(listener) }()

	ts := &TestIMAPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
	}
	t.Cleanup(ts.Close)

	// The listener already accepts; wait until the greeting is served.
	require.Eventually(t, func() bool {
		c, err := imapclient.Dial(ts.Address)
		if err != nil {
			return false
		}
		_ = c.Logout()
		return true
	}, 5*time.Second, 20*time.Millisecond, "IMAP server did not come up")

	return ts
}

// Close shuts the server down.
func (s *TestIMAPServer) Close() {
	s.closeOnce.Do(func() {
		_ = s.Server.Close()
	})
}

// Username returns the memory backend's user name.
func (s *TestIMAPServer) Username() string {
	return testIMAPUsername
}

// Password returns the memory backend's password.
func (s *TestIMAPServer) Password() string {
	return testIMAPPassword
}

// Connect opens a logged-in client session. The returned function logs out.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	require.NoError(t, err, "Failed to connect to test server")

	if err := c.Login(testIMAPUsername, testIMAPPassword); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return c, func() { _ = c.Logout() }
}

// SeedFolders creates the given folders for the default user and subscribes to the ones in
// subscribed. Parents are not created implicitly.
func (s *TestIMAPServer) SeedFolders(t *testing.T, folders, subscribed []string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	for _, name := range folders {
		if err := client.Create(name); err != nil {
			t.Fatalf("Failed to create folder %q: %v", name, err)
		}
	}
	for _, name := range subscribed {
		if err := client.Subscribe(name); err != nil {
			t.Fatalf("Failed to subscribe to %q: %v", name, err)
		}
	}
}

// AddMessage appends a plain text message to the specified folder.
func (s *TestIMAPServer) AddMessage(t *testing.T, folderName, subject string) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	messageBody := fmt.Sprintf(`Date: %s
From: sender@example.com
To: username@example.com
Subject: %s
Content-Type: text/plain; charset=utf-8

Test message body.
`, time.Now().Format(time.RFC1123Z), subject)

	if err := client.Append(folderName, nil, time.Now(), strings.NewReader(messageBody)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
}

// MessageCount returns the number of messages in a folder. The memory backend seeds INBOX
// with one message of its own.
func (s *TestIMAPServer) MessageCount(t *testing.T, folderName string) int {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	status, err := client.Status(folderName, []imap.StatusItem{imap.StatusMessages})
	require.NoError(t, err, "Failed to read status of %q", folderName)
	return int(status.Messages)
}
