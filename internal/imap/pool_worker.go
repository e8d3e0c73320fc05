package imap

import (
	"fmt"
	"os"
	"time"

	"github.com/emersion/go-imap"
)

// getOrCreateWorkerSet gets or creates a worker client set for an account.
// Thread-safe: uses double-check locking pattern.
func (p *Pool) getOrCreateWorkerSet(key string) *workerClientSet {
	// First check without lock
	p.mu.RLock()
	set, exists := p.workerSets[key]
	p.mu.RUnlock()

	if exists {
		return set
	}

	// Need to create - acquire write lock
	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check: another goroutine might have created it
	if set, exists := p.workerSets[key]; exists {
		return set
	}

	set = &workerClientSet{
		clients:   make([]*pooledClient, 0),
		semaphore: make(chan struct{}, p.maxWorkers),
	}
	p.workerSets[key] = set
	return set
}

func isUsable(pc *pooledClient) bool {
	state := pc.GetClient().State()
	return state == imap.AuthenticatedState || state == imap.SelectedState
}

// getWorkerConnection gets or creates a connection for an account.
// Returns a locked client and a release function that must be called when done.
func (p *Pool) getWorkerConnection(key, server, username, password string) (*pooledClient, func(), error) {
	set := p.getOrCreateWorkerSet(key)

	if pc, release := set.acquire(); pc != nil {
		// Client is already locked from acquire()
		healthy := isUsable(pc)
		if healthy && time.Since(pc.GetLastUsed()) > healthCheckThreshold {
			healthy = p.checkConnectionHealth(pc)
		}
		if healthy {
			pc.UpdateLastUsed()
			return pc, release, nil
		}
		// Dead: drop it and fall through to create a new one.
		_ = pc.GetClient().Terminate()
		set.remove(pc)
		release()
	}

	// Acquire semaphore slot
	set.semaphore <- struct{}{}

	// Double-check: another goroutine might have released a client while we were waiting
	set.mu.Lock()
	for _, existing := range set.clients {
		if existing.TryLock() {
			if isUsable(existing) {
				existing.UpdateLastUsed()
				set.mu.Unlock()
				return existing, func() {
					existing.UpdateLastUsed()
					existing.Unlock()
					<-set.semaphore
				}, nil
			}
			existing.Unlock()
		}
	}
	set.mu.Unlock()

	useTLS := os.Getenv("VMAIL_TEST_MODE") != "true"
	c, err := ConnectToIMAP(server, useTLS)
	if err != nil {
		<-set.semaphore
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := Login(c, username, password); err != nil {
		_ = c.Logout()
		<-set.semaphore
		return nil, nil, fmt.Errorf("failed to login: %w", err)
	}

	pc := &pooledClient{
		client:   c,
		lastUsed: time.Now(),
	}
	pc.Lock()
	set.addClient(pc)

	return pc, func() {
		pc.UpdateLastUsed()
		pc.Unlock()
		<-set.semaphore
	}, nil
}

// checkConnectionHealth performs a NOOP command to check if client is alive.
// The client must be locked before calling this.
func (p *Pool) checkConnectionHealth(pc *pooledClient) bool {
	return pc.GetClient().Noop() == nil
}
