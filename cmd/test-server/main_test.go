package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRun(t *testing.T) {
	address := freeAddress(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- run(ctx, address) }()

	var c *client.Client
	require.Eventually(t, func() bool {
		var err error
		c, err = client.Dial(address)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, c.Login(username, password))

	// Seeding runs right after Serve starts; wait for the last folder.
	require.Eventually(t, func() bool {
		_, err := c.Status("Entwürfe", []imap.StatusItem{imap.StatusMessages})
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	mailboxes := make(chan *imap.MailboxInfo, 64)
	require.NoError(t, c.List("", "*", mailboxes))
	var names []string
	for m := range mailboxes {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "Work/Projects/Alpha")
	assert.Contains(t, names, "Lists/golang-nuts")

	_ = c.Logout()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
