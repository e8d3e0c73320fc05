package foldercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout is how long a Collection stays fresh.
	DefaultTimeout = 6 * time.Minute
	// DisabledTimeout applies when folder caching is switched off administratively.
	DisabledTimeout = 20 * time.Second
	// DefaultUserTTL is how long an idle user's collections are kept.
	DefaultUserTTL = time.Hour
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Enabled switches folder caching on; when off, Timeout is DisabledTimeout.
	Enabled             bool
	Timeout             time.Duration
	UserTTL             time.Duration
	IgnoreSubscriptions bool
	UnsubscribeOrphans  bool
	SpecialUse          bool
	// NodeID is stamped on published events; events carrying it are ignored on receipt.
	NodeID string
	// SweepInterval is the period of the idle-eviction sweep; zero means one minute.
	SweepInterval time.Duration
	Now           func() time.Time
	// Meter records cache metrics; nil uses the global meter provider.
	Meter metric.Meter
}

// EffectiveTimeout returns the staleness timeout after applying defaults.
func (c RegistryConfig) EffectiveTimeout() time.Duration {
	if !c.Enabled {
		return DisabledTimeout
	}
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Registry holds the Collections of every user and account, loading each one at most once at a
// time.
//
// Users are evicted after UserTTL without access, single accounts after twice the folder cache
// timeout. A stale Collection is rebuilt in place, never evicted, so references held by callers
// stay valid.
type Registry struct {
	connector    Connector
	broadcaster  Broadcaster
	namespaces   *NamespaceCache
	capabilities *CapabilityCache
	cfg          RegistryConfig
	timeout      time.Duration
	metrics      *cacheMetrics
	log          *logrus.Entry

	mu     sync.RWMutex
	users  map[userKey]*userCollections
	closed bool
	// dropSeq counts drops; drops holds the latest one per user so that a load which started
	// before it does not cache its result.
	dropSeq uint64
	drops   map[userKey]dropMark

	loads     singleflight.Group
	refreshes singleflight.Group

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

type dropMark struct {
	seq uint64
	at  time.Time
}

type userCollections struct {
	lastAccess atomic.Int64
	// accounts is guarded by Registry.mu.
	accounts map[int]*Collection
}

// NewRegistry creates a Registry and starts its sweeper. Close stops it.
func NewRegistry(connector Connector, broadcaster Broadcaster, cfg RegistryConfig) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.UserTTL <= 0 {
		cfg.UserTTL = DefaultUserTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if broadcaster == nil {
		broadcaster = NopBroadcaster{}
	}
	metrics := defaultMetrics
	if cfg.Meter != nil {
		metrics = newCacheMetrics(cfg.Meter)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		connector:    connector,
		broadcaster:  broadcaster,
		namespaces:   NewNamespaceCache(),
		capabilities: NewCapabilityCache(),
		cfg:          cfg,
		timeout:      cfg.EffectiveTimeout(),
		metrics:      metrics,
		log:          logrus.WithField("pkg", "foldercache"),
		users:        make(map[userKey]*userCollections),
		drops:        make(map[userKey]dropMark),
		sweepCancel:  cancel,
		sweepDone:    make(chan struct{}),
	}
	go r.runSweeper(ctx)
	return r
}

// Namespaces exposes the namespace memo.
func (r *Registry) Namespaces() *NamespaceCache { return r.namespaces }

// Peek returns the Collection for key without loading or refreshing it.
func (r *Registry) Peek(key AccountKey) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[key.user()]
	if !ok {
		return nil, false
	}
	c, ok := u.accounts[key.AccountID]
	return c, ok
}

// GetOrLoad returns the Collection for key, building it on first use. Concurrent first calls
// share one build. A failed first build is not cached. pathHint names the folder the caller is
// after; it is only used for diagnostics.
func (r *Registry) GetOrLoad(ctx context.Context, key AccountKey, pathHint string) (*Collection, error) {
	if c, err := r.existing(key); c != nil || err != nil {
		return c, err
	}

	res, err, _ := r.loads.Do(key.String(), func() (any, error) {
		if c, err := r.existing(key); c != nil || err != nil {
			return c, err
		}
		return r.load(context.WithoutCancel(ctx), key, pathHint)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Collection), nil
}

func (r *Registry) existing(key AccountKey) (*Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	u, ok := r.users[key.user()]
	if !ok {
		return nil, nil
	}
	u.lastAccess.Store(r.cfg.Now().UnixMilli())
	return u.accounts[key.AccountID], nil
}

func (r *Registry) load(ctx context.Context, key AccountKey, pathHint string) (*Collection, error) {
	log := r.log.WithField("account", key.String())
	if pathHint != "" {
		log = log.WithField("hint", pathHint)
	}
	log.Debug("Loading folder cache")

	r.mu.RLock()
	startSeq := r.dropSeq
	r.mu.RUnlock()

	exec, release, err := r.connector.Executor(ctx, key, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get executor: %w", err)
	}
	defer release()

	ns, err := r.namespaces.Get(ctx, key, exec)
	if err != nil {
		return nil, remoteErr("NAMESPACE", "", err)
	}

	c := NewCollection(key, ns, r.collectionOptions(ctx, key, exec))
	c.metrics = r.metrics
	if err := c.Reinit(ctx, exec); err != nil {
		r.evictIfEmpty(key.user())
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if mark, ok := r.drops[key.user()]; ok && mark.seq > startSeq {
		log.Debug("Folder cache dropped while loading, not caching the result")
		return c, nil
	}
	u, ok := r.users[key.user()]
	if !ok {
		u = &userCollections{accounts: make(map[int]*Collection)}
		r.users[key.user()] = u
	}
	u.lastAccess.Store(r.cfg.Now().UnixMilli())
	u.accounts[key.AccountID] = c
	return c, nil
}

func (r *Registry) collectionOptions(ctx context.Context, key AccountKey, exec Executor) Options {
	specialUse := r.cfg.SpecialUse
	if specialUse {
		caps, err := r.capabilities.Get(ctx, key, exec)
		if err != nil {
			r.log.WithError(err).WithField("account", key.String()).Warn("Failed to read capabilities, skipping special-use probe")
			specialUse = false
		} else {
			specialUse = caps.Has("SPECIAL-USE")
		}
	}
	return Options{
		Timeout:             r.timeout,
		IgnoreSubscriptions: r.cfg.IgnoreSubscriptions,
		UnsubscribeOrphans:  r.cfg.UnsubscribeOrphans,
		SpecialUse:          specialUse,
		Now:                 r.cfg.Now,
	}
}

func (r *Registry) evictIfEmpty(user userKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[user]; ok && len(u.accounts) == 0 {
		delete(r.users, user)
	}
}

// markDropped records a drop for user. The caller holds r.mu.
func (r *Registry) markDropped(user userKey) {
	r.dropSeq++
	r.drops[user] = dropMark{seq: r.dropSeq, at: r.cfg.Now()}
}

// Get returns a fresh Collection for key, rebuilding it when it is stale. When the rebuild
// fails but older data exists, that Collection is returned together with the error so callers
// can serve it as last known good.
func (r *Registry) Get(ctx context.Context, key AccountKey) (*Collection, error) {
	c, err := r.GetOrLoad(ctx, key, "")
	if err != nil {
		return nil, err
	}
	if c.IsAccessible() {
		return c, nil
	}
	if err := r.Refresh(ctx, c); err != nil {
		return c, err
	}
	return c, nil
}

// Refresh rebuilds a stale Collection. Concurrent callers share one rebuild.
func (r *Registry) Refresh(ctx context.Context, c *Collection) error {
	_, err, _ := r.refreshes.Do(c.key.String(), func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		exec, release, err := r.connector.Executor(ctx, c.key, c.NeedsNewConnection())
		if err != nil {
			return nil, fmt.Errorf("failed to get executor: %w", err)
		}
		defer release()
		_, err = c.RefreshIfStale(ctx, exec)
		return nil, err
	})
	return err
}

// GetEntry returns the LIST entry for path, or nil when the folder does not exist.
func (r *Registry) GetEntry(ctx context.Context, key AccountKey, path string) (*Entry, error) {
	return r.entry(ctx, key, path, (*Collection).List)
}

// GetLsubEntry returns the LSUB entry for path, or nil when it is not subscribed.
func (r *Registry) GetLsubEntry(ctx context.Context, key AccountKey, path string) (*Entry, error) {
	return r.entry(ctx, key, path, (*Collection).Lsub)
}

func (r *Registry) entry(ctx context.Context, key AccountKey, path string, get func(*Collection, string) (*Entry, error)) (*Entry, error) {
	c, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	e, err := get(c, path)
	if errors.Is(err, ErrCacheDeprecated) {
		// Cleared between Get and the lookup.
		if err := r.Refresh(ctx, c); err != nil {
			return nil, err
		}
		e, err = get(c, path)
	}
	return e, err
}

// StatusOf asks the server for the message counters of path and remembers them on the entry.
func (r *Registry) StatusOf(ctx context.Context, key AccountKey, path string) (MessageCounts, error) {
	e, err := r.GetEntry(ctx, key, path)
	if err != nil {
		return MessageCounts{}, err
	}
	if e == nil {
		return MessageCounts{}, fmt.Errorf("folder %q: %w", path, ErrFolderNotFound)
	}

	exec, release, err := r.connector.Executor(ctx, key, false)
	if err != nil {
		return MessageCounts{}, fmt.Errorf("failed to get executor: %w", err)
	}
	defer release()

	counts, err := exec.Status(ctx, e.ServerPath())
	if err != nil {
		return MessageCounts{}, remoteErr("STATUS", e.ServerPath(), err)
	}
	e.RememberCounts(counts)
	return counts, nil
}

// UpdateEntry patches one folder after the caller created it or changed its subscription.
// Nothing happens when the account is not cached.
func (r *Registry) UpdateEntry(ctx context.Context, key AccountKey, path string) error {
	c, ok := r.Peek(key)
	if !ok {
		return nil
	}
	exec, release, err := r.connector.Executor(ctx, key, false)
	if err != nil {
		return fmt.Errorf("failed to get executor: %w", err)
	}
	defer release()

	if err := c.AddSingle(ctx, exec, path); err != nil {
		return err
	}
	r.publishAccount(key, false)
	return nil
}

// RenameEntry moves a cached subtree after the caller renamed the folder on the server.
func (r *Registry) RenameEntry(ctx context.Context, key AccountKey, oldPath, newPath string) error {
	c, ok := r.Peek(key)
	if !ok {
		return nil
	}
	exec, release, err := r.connector.Executor(ctx, key, false)
	if err != nil {
		return fmt.Errorf("failed to get executor: %w", err)
	}
	defer release()

	if err := c.Rename(ctx, exec, oldPath, newPath); err != nil {
		return err
	}
	r.publishAccount(key, false)
	return nil
}

// UpdateSpecialUse re-probes the special-use roles of a cached account.
func (r *Registry) UpdateSpecialUse(ctx context.Context, key AccountKey) error {
	c, err := r.GetOrLoad(ctx, key, "")
	if err != nil {
		return err
	}
	exec, release, err := r.connector.Executor(ctx, key, false)
	if err != nil {
		return fmt.Errorf("failed to get executor: %w", err)
	}
	defer release()
	return c.UpdateSpecialUse(ctx, exec)
}

// DropFor invalidates every account of a user. With enforceNewConnection the Collections are
// cleared in place and their next rebuild uses a new connection; otherwise the user's entry is
// evicted. notify broadcasts the invalidation to other nodes.
func (r *Registry) DropFor(userID string, contextID int, notify, enforceNewConnection bool) {
	user := userKey{UserID: userID, ContextID: contextID}
	r.mu.Lock()
	r.markDropped(user)
	if u, ok := r.users[user]; ok {
		if enforceNewConnection {
			for _, c := range u.accounts {
				c.Clear(true)
			}
		} else {
			delete(r.users, user)
		}
	}
	r.mu.Unlock()

	if !enforceNewConnection {
		r.namespaces.m.dropUser(user)
		r.capabilities.m.dropUser(user)
	}
	r.metrics.invalidation(context.Background(), false)

	if notify {
		r.broadcaster.Publish(Event{
			Region:             Region,
			ContextID:          contextID,
			UserID:             userID,
			Key:                user.String(),
			Origin:             r.cfg.NodeID,
			ForceNewConnection: enforceNewConnection,
		})
	}
}

// ClearCache deprecates one account's Collection and broadcasts it.
func (r *Registry) ClearCache(key AccountKey) {
	r.mu.Lock()
	r.markDropped(key.user())
	r.mu.Unlock()
	if c, ok := r.Peek(key); ok {
		c.Clear(false)
	}
	r.metrics.invalidation(context.Background(), false)
	r.publishAccount(key, false)
}

// RemoveCachedEntry removes one subtree from an account's Collection and broadcasts it.
func (r *Registry) RemoveCachedEntry(key AccountKey, path string) bool {
	c, ok := r.Peek(key)
	if !ok {
		return false
	}
	removed := c.Remove(path)
	if removed {
		r.publishAccount(key, false)
	}
	return removed
}

func (r *Registry) publishAccount(key AccountKey, forceNewConnection bool) {
	accountID := key.AccountID
	r.broadcaster.Publish(Event{
		Region:             Region,
		ContextID:          key.ContextID,
		UserID:             key.UserID,
		AccountID:          &accountID,
		Key:                key.String(),
		Origin:             r.cfg.NodeID,
		ForceNewConnection: forceNewConnection,
	})
}

// HandleInvalidation applies an event received from another node. It never re-broadcasts.
// It reports whether the event was applied.
func (r *Registry) HandleInvalidation(ev Event) bool {
	if ev.Region != Region || (r.cfg.NodeID != "" && ev.Origin == r.cfg.NodeID) {
		return false
	}
	r.metrics.invalidation(context.Background(), true)

	if ev.AccountID == nil {
		r.DropFor(ev.UserID, ev.ContextID, false, ev.ForceNewConnection)
		return true
	}

	key := AccountKey{UserID: ev.UserID, ContextID: ev.ContextID, AccountID: *ev.AccountID}
	r.mu.Lock()
	r.markDropped(key.user())
	if u, ok := r.users[key.user()]; ok {
		delete(u.accounts, key.AccountID)
		if len(u.accounts) == 0 {
			delete(r.users, key.user())
		}
	}
	r.mu.Unlock()
	r.namespaces.Invalidate(key)
	r.capabilities.Invalidate(key)
	return true
}

// Close stops the sweeper and drops everything. Later calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.sweepCancel()
	<-r.sweepDone

	r.mu.Lock()
	r.closed = true
	r.users = make(map[userKey]*userCollections)
	r.drops = make(map[userKey]dropMark)
	r.mu.Unlock()

	r.namespaces.m.clear()
	r.capabilities.m.clear()
}
