package foldercache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/goleak"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) all() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

func newTestRegistry(t *testing.T, conn *fakeConnector, cfg RegistryConfig) (*Registry, *recordingBroadcaster) {
	t.Helper()
	cfg.Enabled = true
	if cfg.NodeID == "" {
		cfg.NodeID = "node-a"
	}
	b := &recordingBroadcaster{}
	r := NewRegistry(conn, b, cfg)
	t.Cleanup(r.Close)
	return r, b
}

func TestRegistry_GetOrLoadIsSingleFlight(t *testing.T) {
	// Registered first so it runs after the registry is closed.
	t.Cleanup(func() { goleak.VerifyNone(t) })

	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec, loadDelay: 20 * time.Millisecond}
	r, _ := newTestRegistry(t, conn, RegistryConfig{})

	var wg sync.WaitGroup
	results := make([]*Collection, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := r.GetOrLoad(context.Background(), testKey, "INBOX")
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		assert.Same(t, results[0], c)
	}
	assert.Equal(t, 1, exec.Calls("LIST *"))
	assert.Equal(t, 1, exec.Calls("NAMESPACE"))
	requests, _, released := conn.stats()
	assert.Equal(t, requests, released, "every executor is released")
}

func TestRegistry_FailedInitialLoadIsNotCached(t *testing.T) {
	exec := newFakeExecutor(standardListing(), nil)
	exec.listErr = errConnectionReset
	conn := &fakeConnector{exec: exec}
	r, _ := newTestRegistry(t, conn, RegistryConfig{})

	_, err := r.GetOrLoad(context.Background(), testKey, "")
	var rle *RemoteListingError
	require.ErrorAs(t, err, &rle)
	_, ok := r.Peek(testKey)
	assert.False(t, ok)

	exec.set(func(f *fakeExecutor) { f.listErr = nil })
	c, err := r.GetOrLoad(context.Background(), testKey, "")
	require.NoError(t, err)
	assert.True(t, c.IsAccessible())
}

func TestRegistry_ConnectorFailure(t *testing.T) {
	conn := &fakeConnector{err: errors.New("dial tcp: connection refused")}
	r, _ := newTestRegistry(t, conn, RegistryConfig{})

	_, err := r.Get(context.Background(), testKey)
	assert.ErrorContains(t, err, "connection refused")
}

func TestRegistry_StaleCollectionIsRebuiltOnLookup(t *testing.T) {
	clock := newFakeClock()
	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec}
	r, _ := newTestRegistry(t, conn, RegistryConfig{Timeout: 6 * time.Minute, Now: clock.Now})

	e, err := r.GetEntry(context.Background(), testKey, "Projects/Go")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, exec.Calls("LIST *"))

	clock.Advance(5 * time.Minute)
	_, err = r.GetEntry(context.Background(), testKey, "Projects/Go")
	require.NoError(t, err)
	assert.Equal(t, 1, exec.Calls("LIST *"), "fresh data is served from cache")

	clock.Advance(2 * time.Minute)
	c, _ := r.Peek(testKey)
	assert.False(t, c.IsAccessible())

	_, err = r.GetEntry(context.Background(), testKey, "Projects/Go")
	require.NoError(t, err)
	assert.Equal(t, 2, exec.Calls("LIST *"))
	assert.True(t, c.IsAccessible())
}

func TestRegistry_DisabledCachingUsesShortTimeout(t *testing.T) {
	cfg := RegistryConfig{Timeout: time.Hour}
	assert.Equal(t, DisabledTimeout, cfg.EffectiveTimeout())
	cfg.Enabled = true
	assert.Equal(t, time.Hour, cfg.EffectiveTimeout())
	cfg.Timeout = 0
	assert.Equal(t, DefaultTimeout, cfg.EffectiveTimeout())
}

func TestRegistry_GetServesStaleDataOnFailure(t *testing.T) {
	clock := newFakeClock()
	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec}
	r, _ := newTestRegistry(t, conn, RegistryConfig{Timeout: time.Minute, Now: clock.Now})

	_, err := r.Get(context.Background(), testKey)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	exec.set(func(f *fakeExecutor) { f.listErr = errConnectionReset })

	c, err := r.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, errConnectionReset)
	require.NotNil(t, c)
	assert.NotNil(t, c.ListIgnoreDeprecated("Projects/Go"))
}

func TestRegistry_DropFor(t *testing.T) {
	t.Run("evicts the user", func(t *testing.T) {
		exec := newFakeExecutor(standardListing(), nil)
		conn := &fakeConnector{exec: exec}
		r, b := newTestRegistry(t, conn, RegistryConfig{})

		_, err := r.Get(context.Background(), testKey)
		require.NoError(t, err)

		r.DropFor(testKey.UserID, testKey.ContextID, true, false)
		_, ok := r.Peek(testKey)
		assert.False(t, ok)

		events := b.all()
		require.Len(t, events, 1)
		assert.Equal(t, Region, events[0].Region)
		assert.Equal(t, "1/alice@example.com", events[0].Key)
		assert.Nil(t, events[0].AccountID)
		assert.Equal(t, "node-a", events[0].Origin)

		_, err = r.Get(context.Background(), testKey)
		require.NoError(t, err)
		assert.Equal(t, 2, exec.Calls("NAMESPACE"), "namespaces are reloaded after eviction")
	})

	t.Run("forces a new connection in place", func(t *testing.T) {
		exec := newFakeExecutor(standardListing(), nil)
		conn := &fakeConnector{exec: exec}
		r, b := newTestRegistry(t, conn, RegistryConfig{})

		held, err := r.Get(context.Background(), testKey)
		require.NoError(t, err)

		r.DropFor(testKey.UserID, testKey.ContextID, false, true)
		assert.Empty(t, b.all())
		assert.True(t, held.NeedsNewConnection(), "holders see the change")

		again, err := r.Get(context.Background(), testKey)
		require.NoError(t, err)
		assert.Same(t, held, again)
		_, forceNew, _ := conn.stats()
		assert.Equal(t, 1, forceNew)
		assert.Equal(t, StateInitialized, again.State())
	})

	t.Run("drop during the first load is not undone", func(t *testing.T) {
		exec := newFakeExecutor(standardListing(), nil)
		conn := &fakeConnector{exec: exec}
		r, _ := newTestRegistry(t, conn, RegistryConfig{})

		var once sync.Once
		conn.mu.Lock()
		conn.onExecutor = func() {
			once.Do(func() { r.DropFor(testKey.UserID, testKey.ContextID, false, false) })
		}
		conn.mu.Unlock()

		c, err := r.GetOrLoad(context.Background(), testKey, "")
		require.NoError(t, err)
		require.NotNil(t, c, "the caller still gets its listing")
		_, ok := r.Peek(testKey)
		assert.False(t, ok)

		again, err := r.GetOrLoad(context.Background(), testKey, "")
		require.NoError(t, err)
		assert.NotSame(t, c, again)
		assert.Equal(t, 2, exec.Calls("LIST *"))
		_, ok = r.Peek(testKey)
		assert.True(t, ok)
	})
}

func TestRegistry_TargetedInvalidation(t *testing.T) {
	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec}
	r, b := newTestRegistry(t, conn, RegistryConfig{})
	ctx := context.Background()

	c, err := r.Get(ctx, testKey)
	require.NoError(t, err)

	assert.True(t, r.RemoveCachedEntry(testKey, "Projects"))
	assert.Nil(t, c.ListIgnoreDeprecated("Projects/Go"))
	assert.False(t, r.RemoveCachedEntry(AccountKey{UserID: "bob", ContextID: 1}, "INBOX"))

	r.ClearCache(testKey)
	assert.True(t, c.IsDeprecated())

	events := b.all()
	require.Len(t, events, 2)
	for _, ev := range events {
		require.NotNil(t, ev.AccountID)
		assert.Equal(t, testKey.AccountID, *ev.AccountID)
		assert.Equal(t, testKey.String(), ev.Key)
	}

	e, err := r.GetEntry(ctx, testKey, "Projects/Go")
	require.NoError(t, err)
	assert.NotNil(t, e, "cleared collection is rebuilt")
}

func TestRegistry_UpdateAndRenameEntry(t *testing.T) {
	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec}
	r, b := newTestRegistry(t, conn, RegistryConfig{})
	ctx := context.Background()

	require.NoError(t, r.UpdateEntry(ctx, testKey, "Projects/Rust"), "uncached account is a no-op")
	assert.Empty(t, b.all())

	c, err := r.Get(ctx, testKey)
	require.NoError(t, err)

	exec.set(func(f *fakeExecutor) { f.list = append(f.list, rec("Projects/Rust")) })
	require.NoError(t, r.UpdateEntry(ctx, testKey, "Projects/Rust"))
	assert.NotNil(t, c.ListIgnoreDeprecated("Projects/Rust"))

	exec.set(func(f *fakeExecutor) {
		f.list = []Record{rec("INBOX"), rec("Code", `\HasChildren`), rec("Code/Go"), rec("Code/Rust")}
	})
	require.NoError(t, r.RenameEntry(ctx, testKey, "Projects", "Code"))
	assert.Nil(t, c.ListIgnoreDeprecated("Projects"))
	assert.Equal(t, []string{"Code/Go", "Code/Rust"}, c.ListIgnoreDeprecated("Code").ChildPaths())
	assert.Len(t, b.all(), 2)
}

func TestRegistry_StatusOf(t *testing.T) {
	exec := newFakeExecutor(standardListing(), nil)
	exec.counts["INBOX"] = MessageCounts{Total: 12, Recent: 2, Unseen: 5}
	conn := &fakeConnector{exec: exec}
	r, _ := newTestRegistry(t, conn, RegistryConfig{})
	ctx := context.Background()

	counts, err := r.StatusOf(ctx, testKey, "inbox")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), counts.Unseen)

	e, err := r.GetEntry(ctx, testKey, "INBOX")
	require.NoError(t, err)
	remembered, ok := e.MessageCounts()
	assert.True(t, ok)
	assert.Equal(t, counts, remembered)

	_, err = r.StatusOf(ctx, testKey, "Nope")
	assert.ErrorIs(t, err, ErrFolderNotFound)

	_, err = r.StatusOf(ctx, testKey, "Sent")
	var rle *RemoteListingError
	assert.ErrorAs(t, err, &rle)
}

func TestRegistry_SpecialUseDependsOnCapability(t *testing.T) {
	tests := []struct {
		name      string
		caps      Capabilities
		enabled   bool
		wantProbe int
	}{
		{"advertised and enabled", Capabilities{"SPECIAL-USE": true}, true, 1},
		{"not advertised", Capabilities{"IMAP4REV1": true}, true, 0},
		{"disabled", Capabilities{"SPECIAL-USE": true}, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := newFakeExecutor(standardListing(), nil)
			exec.caps = tt.caps
			r, _ := newTestRegistry(t, &fakeConnector{exec: exec}, RegistryConfig{SpecialUse: tt.enabled})

			_, err := r.Get(context.Background(), testKey)
			require.NoError(t, err)
			assert.Equal(t, tt.wantProbe, exec.Calls("LIST SPECIAL-USE"))
		})
	}
}

func TestRegistry_HandleInvalidation(t *testing.T) {
	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec}
	r, b := newTestRegistry(t, conn, RegistryConfig{})
	ctx := context.Background()
	accountID := testKey.AccountID

	_, err := r.Get(ctx, testKey)
	require.NoError(t, err)

	own := Event{Region: Region, ContextID: 1, UserID: testKey.UserID, AccountID: &accountID, Origin: "node-a"}
	assert.False(t, r.HandleInvalidation(own))
	_, ok := r.Peek(testKey)
	assert.True(t, ok)

	foreign := Event{Region: "OtherCache", ContextID: 1, UserID: testKey.UserID, Origin: "node-b"}
	assert.False(t, r.HandleInvalidation(foreign))

	remote := own
	remote.Origin = "node-b"
	assert.True(t, r.HandleInvalidation(remote))
	_, ok = r.Peek(testKey)
	assert.False(t, ok)
	assert.Empty(t, b.all(), "received events are not re-broadcast")

	_, err = r.Get(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, r.HandleInvalidation(Event{Region: Region, ContextID: 1, UserID: testKey.UserID, Origin: "node-b"}))
	_, ok = r.Peek(testKey)
	assert.False(t, ok)
}

func TestRegistry_Sweep(t *testing.T) {
	clock := newFakeClock()
	exec := newFakeExecutor(standardListing(), nil)
	conn := &fakeConnector{exec: exec}
	r, _ := newTestRegistry(t, conn, RegistryConfig{Timeout: time.Minute, UserTTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	active := AccountKey{UserID: testKey.UserID, ContextID: 1, AccountID: 1}
	_, err := r.Get(ctx, testKey)
	require.NoError(t, err)
	_, err = r.Get(ctx, active)
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	c, _ := r.Peek(active)
	c.ListIgnoreDeprecated("INBOX")
	clock.Advance(time.Minute)

	r.sweep(clock.Now())
	_, ok := r.Peek(testKey)
	assert.False(t, ok, "idle account is evicted")
	_, ok = r.Peek(active)
	assert.True(t, ok)

	r.DropFor(testKey.UserID, testKey.ContextID, false, false)
	r.mu.RLock()
	assert.Len(t, r.drops, 1)
	r.mu.RUnlock()

	clock.Advance(2 * time.Hour)
	r.sweep(clock.Now())
	_, ok = r.Peek(active)
	assert.False(t, ok, "idle user is evicted")
	r.mu.RLock()
	assert.Empty(t, r.drops, "old drop marks are forgotten")
	r.mu.RUnlock()
}

func TestRegistry_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	exec := newFakeExecutor(standardListing(), nil)
	r := NewRegistry(&fakeConnector{exec: exec}, nil, RegistryConfig{Enabled: true, SweepInterval: time.Millisecond})
	_, err := r.Get(context.Background(), testKey)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	r.Close()
	_, err = r.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistry_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	exec := newFakeExecutor(standardListing(), nil)
	r, _ := newTestRegistry(t, &fakeConnector{exec: exec}, RegistryConfig{Meter: provider.Meter("test")})
	ctx := context.Background()

	_, err := r.GetEntry(ctx, testKey, "INBOX")
	require.NoError(t, err)
	c, _ := r.Peek(testKey)
	c.ListIgnoreDeprecated("Nope")
	r.ClearCache(testKey)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			for _, dp := range data.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(1), sums["foldercache.rebuilds"])
	assert.Equal(t, int64(2), sums["foldercache.lookups"])
	assert.Equal(t, int64(1), sums["foldercache.invalidations"])
}
