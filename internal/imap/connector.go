package imap

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/mailfolders/internal/crypto"
	"github.com/vdavid/mailfolders/internal/foldercache"
	"github.com/vdavid/mailfolders/internal/models"
)

// AccountSource looks up the stored IMAP account of a user.
type AccountSource interface {
	GetAccount(ctx context.Context, userID string, contextID, accountID int) (*models.Account, error)
}

// Connector hands out executors on pooled connections for the folder cache.
type Connector struct {
	pool      IMAPPool
	accounts  AccountSource
	encryptor *crypto.Encryptor
}

var _ foldercache.Connector = (*Connector)(nil)

// NewConnector creates a Connector.
func NewConnector(pool IMAPPool, accounts AccountSource, encryptor *crypto.Encryptor) *Connector {
	return &Connector{
		pool:      pool,
		accounts:  accounts,
		encryptor: encryptor,
	}
}

// Executor returns an executor for the account and the release function of its connection.
// With forceNewConnection, the account's pooled connections are discarded first.
func (c *Connector) Executor(ctx context.Context, key foldercache.AccountKey, forceNewConnection bool) (foldercache.Executor, func(), error) {
	acc, err := c.accounts.GetAccount(ctx, key.UserID, key.ContextID, key.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get account %s: %w", key, err)
	}

	password, err := c.encryptor.Open(acc.EncryptedIMAPPassword, key.String())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	poolKey := key.String()
	if forceNewConnection {
		logrus.WithField("account", poolKey).Debug("Discarding pooled connections")
		c.pool.RemoveClient(poolKey)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	cl, release, err := c.pool.GetClient(poolKey, acc.IMAPServerHostname, acc.IMAPUsername, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get IMAP client: %w", err)
	}
	return NewExecutor(cl), release, nil
}
