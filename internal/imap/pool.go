package imap

import (
	"context"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
)

const (
	// workerIdleTimeout is the maximum time a connection can be idle before being closed.
	workerIdleTimeout = 10 * time.Minute
	// healthCheckThreshold is the idle time after which we perform a health check before reuse.
	healthCheckThreshold = 1 * time.Minute
)

// Pool manages IMAP connections per mail account.
// Each account gets up to maxWorkers connections; folder listings, STATUS and
// existence probes for the same account share them.
//
// Thread safety: Each connection is wrapped with a mutex to ensure thread-safe access.
// Multiple goroutines can use different connections concurrently, but access to the same
// connection is serialized.
type Pool struct {
	workerSets    map[string]*workerClientSet // account key -> worker client set
	mu            sync.RWMutex
	maxWorkers    int // Maximum connections per account (default: 3)
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	closeOnce     sync.Once
}

// NewPool creates a new IMAP connection pool with the default worker limit.
func NewPool() *Pool {
	return NewPoolWithMaxWorkers(3)
}

// NewPoolWithMaxWorkers creates a new IMAP connection pool with a configurable
// maximum number of connections per account.
func NewPoolWithMaxWorkers(maxWorkers int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workerSets:    make(map[string]*workerClientSet),
		maxWorkers:    maxWorkers,
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	p.startCleanupGoroutine()
	return p
}

// GetClient gets or creates an IMAP client for an account.
// Returns the client and a release function that must be called when the caller is done.
func (p *Pool) GetClient(key, server, username, password string) (*client.Client, func(), error) {
	pc, release, err := p.getWorkerConnection(key, server, username, password)
	if err != nil {
		return nil, nil, err
	}
	return pc.GetClient(), release, nil
}

// RemoveClient logs out and forgets all idle connections of an account. Connections in use are
// closed as well; their holders will see errors on the next command.
func (p *Pool) RemoveClient(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if set, exists := p.workerSets[key]; exists {
		set.close()
		delete(p.workerSets, key)
	}
}

// Close closes all connections in the pool and stops the cleanup goroutine.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.cleanupCancel()

		p.mu.Lock()
		defer p.mu.Unlock()

		for key, set := range p.workerSets {
			set.close()
			delete(p.workerSets, key)
		}
	})
}
