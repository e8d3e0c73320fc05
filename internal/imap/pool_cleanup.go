package imap

import (
	"time"

	"github.com/sirupsen/logrus"
)

// startCleanupGoroutine runs a background goroutine that periodically cleans up idle connections.
// The goroutine will stop when cleanupCtx is canceled (via Pool.Close()).
func (p *Pool) startCleanupGoroutine() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case <-ticker.C:
				p.cleanupIdleConnections(time.Now())
			}
		}
	}()
}

// cleanupIdleConnections removes connections that have been idle too long.
func (p *Pool) cleanupIdleConnections(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, set := range p.workerSets {
		set.mu.Lock()
		kept := set.clients[:0]
		for _, pc := range set.clients {
			// A connection that is in use is not idle.
			if now.Sub(pc.GetLastUsed()) > workerIdleTimeout && pc.TryLock() {
				if err := pc.GetClient().Logout(); err != nil {
					logrus.WithError(err).WithField("account", key).Debug("Failed to logout idle connection")
				}
				pc.Unlock()
				continue
			}
			kept = append(kept, pc)
		}
		set.clients = kept
		empty := len(set.clients) == 0
		set.mu.Unlock()

		if empty {
			delete(p.workerSets, key)
		}
	}
}
