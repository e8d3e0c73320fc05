package imap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/mailfolders/internal/testutil"
)

func TestPool_GetClient(t *testing.T) {
	t.Setenv("VMAIL_TEST_MODE", "true")

	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := NewPool()
	defer pool.Close()

	t.Run("creates and reuses a connection", func(t *testing.T) {
		c1, release, err := pool.GetClient("1/alice/0", server.Address, server.Username(), server.Password())
		require.NoError(t, err)
		release()

		c2, release, err := pool.GetClient("1/alice/0", server.Address, server.Username(), server.Password())
		require.NoError(t, err)
		release()

		assert.Same(t, c1, c2)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := pool.GetClient("1/bob/0", server.Address, server.Username(), "wrong")
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, _, err := pool.GetClient("1/carol/0", "127.0.0.1:1", "u", "p")
		assert.Error(t, err)
	})

	t.Run("remove forces a new connection", func(t *testing.T) {
		c1, release, err := pool.GetClient("1/dave/0", server.Address, server.Username(), server.Password())
		require.NoError(t, err)
		release()

		pool.RemoveClient("1/dave/0")

		c2, release, err := pool.GetClient("1/dave/0", server.Address, server.Username(), server.Password())
		require.NoError(t, err)
		release()

		assert.NotSame(t, c1, c2)
	})

	t.Run("remove unknown account", func(t *testing.T) {
		assert.NotPanics(t, func() { pool.RemoveClient("1/nobody/0") })
	})
}

func TestPool_ConcurrentAccess(t *testing.T) {
	t.Setenv("VMAIL_TEST_MODE", "true")

	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := NewPoolWithMaxWorkers(2)
	defer pool.Close()

	const numGoroutines = 6
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, release, err := pool.GetClient("1/concurrent/0", server.Address, server.Username(), server.Password())
			if err != nil {
				errs <- err
				return
			}
			defer release()
			errs <- c.Noop()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	set := pool.getOrCreateWorkerSet("1/concurrent/0")
	set.mu.Lock()
	defer set.mu.Unlock()
	assert.LessOrEqual(t, len(set.clients), 2)
}

func TestPool_CleanupIdleConnections(t *testing.T) {
	t.Setenv("VMAIL_TEST_MODE", "true")

	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := NewPool()
	defer pool.Close()

	_, release, err := pool.GetClient("1/idle/0", server.Address, server.Username(), server.Password())
	require.NoError(t, err)
	release()

	pool.cleanupIdleConnections(time.Now())
	pool.mu.RLock()
	_, kept := pool.workerSets["1/idle/0"]
	pool.mu.RUnlock()
	assert.True(t, kept, "recently used connections are kept")

	pool.cleanupIdleConnections(time.Now().Add(workerIdleTimeout + time.Minute))
	pool.mu.RLock()
	_, kept = pool.workerSets["1/idle/0"]
	pool.mu.RUnlock()
	assert.False(t, kept, "idle connections are closed and empty sets dropped")
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	pool := NewPool()
	pool.Close()
	assert.NotPanics(t, pool.Close)
}
