package foldercache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// runSweeper periodically evicts idle users and accounts until ctx is canceled.
func (r *Registry) runSweeper(ctx context.Context) {
	defer close(r.sweepDone)
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(r.cfg.Now())
		}
	}
}

// sweep evicts users idle for longer than UserTTL and Collections idle for longer than twice
// the folder cache timeout.
func (r *Registry) sweep(now time.Time) {
	accountTTL := 2 * r.timeout
	var evictedUsers []userKey
	evictedAccounts := 0

	r.mu.Lock()
	for user, u := range r.users {
		if now.Sub(time.UnixMilli(u.lastAccess.Load())) > r.cfg.UserTTL {
			delete(r.users, user)
			evictedUsers = append(evictedUsers, user)
			continue
		}
		for id, c := range u.accounts {
			if now.Sub(c.idleSince()) > accountTTL {
				delete(u.accounts, id)
				evictedAccounts++
			}
		}
		if len(u.accounts) == 0 {
			delete(r.users, user)
		}
	}
	// Loads finish well within UserTTL, so older drop marks are no longer needed.
	for user, mark := range r.drops {
		if now.Sub(mark.at) > r.cfg.UserTTL {
			delete(r.drops, user)
		}
	}
	r.mu.Unlock()

	for _, user := range evictedUsers {
		r.namespaces.m.dropUser(user)
		r.capabilities.m.dropUser(user)
	}
	if len(evictedUsers) > 0 || evictedAccounts > 0 {
		r.log.WithFields(logrus.Fields{
			"users":    len(evictedUsers),
			"accounts": evictedAccounts,
		}).Debug("Evicted idle folder caches")
	}
}
