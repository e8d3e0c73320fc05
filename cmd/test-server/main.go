package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
)

// The memory backend's only user.
const (
	username = "username"
	password = "password"
)

// folders is the hierarchy served to local clients. "Lists" has no mailbox of its own, so its
// children exercise the placeholder parents of the folder tree.
var folders = []string{
	"Archive",
	"Archive/2023",
	"Archive/2024",
	"Drafts",
	"Sent",
	"Trash",
	"Junk",
	"Work",
	"Work/Projects",
	"Work/Projects/Alpha",
	"Lists/golang-nuts",
	"Shared/Team",
	"Entwürfe",
}

var subscribed = []string{
	"INBOX",
	"Drafts",
	"Sent",
	"Trash",
	"Work",
	"Work/Projects/Alpha",
	"Lists/golang-nuts",
	"Entwürfe",
}

func main() {
	address := os.Getenv("IMAP_ADDRESS")
	if address == "" {
		address = "127.0.0.1:1143"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, address); err != nil {
		logrus.WithError(err).Fatal("Test IMAP server failed")
	}
}

func run(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s := server.New(memory.New())
	s.AllowInsecureAuth = true

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.Serve(listener)
	}()

	if err := seed(listener.Addr().String()); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to seed folders: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"address":  listener.Addr().String(),
		"username": username,
		"password": password,
	}).Info("Test IMAP server ready (no TLS). Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logrus.Info("Shutting down")
		return s.Close()
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

// seed creates the folder hierarchy and subscriptions through a regular client session.
func seed(address string) error {
	c, err := client.Dial(address)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		_ = c.Logout()
	}()

	if err := c.Login(username, password); err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}

	for _, name := range folders {
		if err := c.Create(name); err != nil {
			logrus.WithError(err).WithField("folder", name).Warn("Failed to create folder")
		}
	}
	for _, name := range subscribed {
		if err := c.Subscribe(name); err != nil {
			logrus.WithError(err).WithField("folder", name).Warn("Failed to subscribe")
		}
	}
	return nil
}
