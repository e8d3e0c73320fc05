package foldercache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a Collection.
type State int32

const (
	// StateDeprecated marks data that must be rebuilt before it can be trusted. A new
	// Collection starts here.
	StateDeprecated State = iota
	// StateInitialized marks data built from a complete listing.
	StateInitialized
	// StateDeprecatedForceNewConnection is StateDeprecated, and the rebuild must not reuse an
	// already open connection.
	StateDeprecatedForceNewConnection
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateDeprecatedForceNewConnection:
		return "deprecated-force-new-connection"
	default:
		return "deprecated"
	}
}

// Options configure one Collection. They are read-only during a build.
type Options struct {
	// Timeout after which the data is stale and the next access rebuilds it.
	Timeout time.Duration
	// IgnoreSubscriptions treats every folder as subscribed; LSUB is never issued.
	IgnoreSubscriptions bool
	// UnsubscribeOrphans removes server-side subscriptions that point at folders which no
	// longer exist. Orphans are always dropped from the cached LSUB view.
	UnsubscribeOrphans bool
	// SpecialUse attempts LIST (SPECIAL-USE) on every full build.
	SpecialUse bool
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Collection mirrors the LIST and LSUB folder hierarchy of one mail account.
//
// Structural mutations are serialized by mu and publish a new snapshot. Reads load the current
// snapshot without locking and may observe data that a concurrent rebuild is about to replace.
type Collection struct {
	key     AccountKey
	ns      Namespaces
	opts    Options
	log     *logrus.Entry
	metrics *cacheMetrics

	mu          sync.Mutex
	snap        atomic.Pointer[snapshot]
	state       atomic.Int32
	lastRefresh atomic.Int64 // unix millis
	lastAccess  atomic.Int64 // unix millis
}

// NewCollection creates an empty, deprecated Collection. Call Reinit to load it.
func NewCollection(key AccountKey, ns Namespaces, opts Options) *Collection {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Collection{
		key:     key,
		ns:      ns,
		opts:    opts,
		log:     logrus.WithField("account", key.String()),
		metrics: defaultMetrics,
	}
	c.state.Store(int32(StateDeprecated))
	c.touch()
	return c
}

func (c *Collection) Key() AccountKey          { return c.key }
func (c *Collection) Namespaces() Namespaces   { return c.ns }
func (c *Collection) State() State             { return State(c.state.Load()) }
func (c *Collection) IsDeprecated() bool       { return c.State() != StateInitialized }
func (c *Collection) NeedsNewConnection() bool { return c.State() == StateDeprecatedForceNewConnection }

// LastRefresh returns when the data was last fully rebuilt; zero after Clear.
func (c *Collection) LastRefresh() time.Time {
	ms := c.lastRefresh.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// IsAccessible reports whether the data is initialized and younger than the timeout.
func (c *Collection) IsAccessible() bool {
	if c.State() != StateInitialized {
		return false
	}
	return c.opts.Now().UnixMilli()-c.lastRefresh.Load() <= c.opts.Timeout.Milliseconds()
}

func (c *Collection) touch() {
	c.lastAccess.Store(c.opts.Now().UnixMilli())
}

func (c *Collection) idleSince() time.Time {
	return time.UnixMilli(c.lastAccess.Load())
}

// Clear deprecates the data so that the next access rebuilds it. With forceNewConnection the
// rebuild also asks for a fresh connection.
func (c *Collection) Clear(forceNewConnection bool) {
	state := StateDeprecated
	if forceNewConnection {
		state = StateDeprecatedForceNewConnection
	}
	c.state.Store(int32(state))
	c.lastRefresh.Store(0)
}

// Reinit performs a full LIST/LSUB round and replaces the data. On failure the previous data
// and state are left untouched.
func (c *Collection) Reinit(ctx context.Context, exec CommandExecutor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reinitLocked(ctx, exec)
}

// RefreshIfStale rebuilds unless another caller already did so while this one waited.
func (c *Collection) RefreshIfStale(ctx context.Context, exec CommandExecutor) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IsAccessible() {
		return false, nil
	}
	if err := c.reinitLocked(ctx, exec); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Collection) reinitLocked(ctx context.Context, exec CommandExecutor) error {
	started := c.opts.Now()
	s, err := c.fetchAndBuild(ctx, exec)
	if err != nil {
		c.metrics.rebuild(ctx, false)
		c.log.WithError(err).Warn("Folder cache rebuild failed")
		return err
	}
	c.publish(s, true)
	c.metrics.rebuild(ctx, true)
	c.log.WithFields(logrus.Fields{
		"list":     s.list.len(),
		"lsub":     s.lsub.len(),
		"duration": c.opts.Now().Sub(started),
	}).Debug("Folder cache rebuilt")
	return nil
}

func (c *Collection) fetchAndBuild(ctx context.Context, exec CommandExecutor) (*snapshot, error) {
	rootRecords, err := exec.List(ctx, "")
	if err != nil {
		return nil, remoteErr("LIST", "", err)
	}
	listRecords, err := exec.List(ctx, "*")
	if err != nil {
		return nil, remoteErr("LIST", "*", err)
	}
	lsubRecords := listRecords
	if !c.opts.IgnoreSubscriptions {
		if lsubRecords, err = exec.Lsub(ctx, "*"); err != nil {
			return nil, remoteErr("LSUB", "*", err)
		}
	}

	var special []Record
	specialOK := false
	if c.opts.SpecialUse {
		if special, err = exec.ListSpecialUse(ctx); err != nil {
			c.log.WithError(err).Warn("LIST (SPECIAL-USE) failed, using plain LIST attributes")
		} else {
			specialOK = true
		}
	}

	list, idx := buildTree(rootEntry(rootRecords, listRecords), listRecords, false, c.ns, c.log)
	lsub, _ := buildTree(rootEntry(rootRecords, listRecords), lsubRecords, true, c.ns, c.log)
	s := newSnapshot(list, lsub, idx)

	prior := c.snap.Load()
	switch {
	case specialOK:
		c.applySpecialUse(s, special)
	case prior != nil:
		s.special.retain(prior.special, s.list)
	}

	if !c.opts.IgnoreSubscriptions {
		c.checkConsistency(ctx, s, exec)
	}
	s.mbox = considerMbox(s.list)
	return s, nil
}

// rootEntry builds the root from the LIST "" "" answer, falling back to the first delimiter
// seen in the full listing.
func rootEntry(rootRecords, listRecords []Record) *Entry {
	var sep rune
	var attrs []string
	for _, r := range rootRecords {
		d, err := r.delimiterRune()
		if err != nil {
			continue
		}
		if r.Name == "" || (d != 0 && r.Name == string(d)) {
			sep, attrs = d, r.Attributes
			break
		}
	}
	if sep == 0 {
		for _, r := range listRecords {
			if d, err := r.delimiterRune(); err == nil && d != 0 {
				sep = d
				break
			}
		}
	}
	root := NewEntry(attrs, sep, "")
	root.canOpen = false
	return root
}

// applySpecialUse merges the roles from a LIST (SPECIAL-USE) answer into the LIST entries and
// rebuilds the index from scratch.
func (c *Collection) applySpecialUse(s *snapshot, records []Record) {
	for _, e := range s.list.entries {
		for _, use := range SpecialUses {
			delete(e.attributes, string(use))
		}
	}
	for _, r := range records {
		tagged, err := r.toEntry()
		if err != nil {
			c.log.WithError(err).Warn("Skipping malformed special-use record")
			continue
		}
		e := s.list.get(tagged.fullPath)
		if e == nil {
			continue
		}
		for _, use := range SpecialUses {
			if tagged.HasAttribute(string(use)) {
				e.addAttribute(string(use))
			}
		}
	}
	s.reindexSpecialUse(nil)
}

// UpdateSpecialUse re-probes special-use roles only. When the server rejects the extended
// LIST, plain LIST attributes are used and previously known roles are kept.
func (c *Collection) UpdateSpecialUse(ctx context.Context, exec CommandExecutor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if cur == nil {
		return c.reinitLocked(ctx, exec)
	}
	s := cur.clone()
	special, err := exec.ListSpecialUse(ctx)
	if err == nil {
		c.applySpecialUse(s, special)
		c.publish(s, false)
		return nil
	}
	c.log.WithError(err).Warn("LIST (SPECIAL-USE) failed, falling back to plain LIST")

	records, err := exec.List(ctx, "*")
	if err != nil {
		return remoteErr("LIST", "*", err)
	}
	for _, r := range records {
		tagged, err := r.toEntry()
		if err != nil {
			continue
		}
		if e := s.list.get(tagged.fullPath); e != nil {
			for _, use := range SpecialUses {
				if tagged.HasAttribute(string(use)) {
					e.addAttribute(string(use))
				}
			}
		}
	}
	s.reindexSpecialUse(cur.special)
	c.publish(s, false)
	return nil
}

// AddSingle patches one folder after a create, rename or (un)subscribe without a full rebuild.
// An existing node keeps its children; a new node goes below its parent, or the root.
func (c *Collection) AddSingle(ctx context.Context, exec CommandExecutor, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if cur == nil {
		return c.reinitLocked(ctx, exec)
	}
	s := cur.clone()
	if err := c.addSingleLocked(ctx, exec, s, path); err != nil {
		return err
	}
	s.reindexSpecialUse(cur.special)
	c.publish(s, false)
	return nil
}

func (c *Collection) addSingleLocked(ctx context.Context, exec CommandExecutor, s *snapshot, path string) error {
	target := s.normalize(path)
	listRecords, err := exec.List(ctx, path)
	if err != nil {
		return remoteErr("LIST", path, err)
	}
	lsubRecords := listRecords
	if !c.opts.IgnoreSubscriptions {
		if lsubRecords, err = exec.Lsub(ctx, path); err != nil {
			return remoteErr("LSUB", path, err)
		}
	}

	if !c.patchSingle(s.list, listRecords, target) {
		demoteOrRemove(s.list, target, c.ns)
	}
	if !c.patchSingle(s.lsub, lsubRecords, target) {
		demoteOrRemove(s.lsub, target, c.ns)
	}
	s.mbox = considerMbox(s.list)
	return nil
}

func (c *Collection) patchSingle(t *tree, records []Record, target string) bool {
	for _, r := range records {
		e, err := r.toEntry()
		if err != nil {
			c.log.WithError(err).Warn("Skipping malformed listing record")
			continue
		}
		if e.fullPath != target || e.IsRoot() {
			continue
		}
		e.namespace = c.ns.IsNamespaceRoot(e.fullPath)
		if e.namespace {
			e.canOpen = false
		}
		if existing := t.get(target); existing != nil {
			e.children = existing.children
			e.parent, e.hasParent = existing.parent, existing.hasParent
			e.advisory = existing.advisory
			t.put(e)
			return true
		}
		t.put(e)
		t.linkOrRoot(e)
		return true
	}
	return false
}

// demoteOrRemove handles a folder the server no longer reports: with children left it becomes
// a dummy, otherwise it is removed. A namespace root stays in LIST as a synthesized entry.
func demoteOrRemove(t *tree, path string, ns Namespaces) {
	e := t.get(path)
	if e == nil || e.IsRoot() {
		return
	}
	var d *Entry
	switch {
	case len(e.children) > 0:
		d = newDummy(path, e.separator, ns)
	case !t.lsub && ns.IsNamespaceRoot(path):
		d = newNamespaceRoot(path, e.separator)
	default:
		t.removeSubtree(path)
		return
	}
	d.children = e.children
	d.parent, d.hasParent = e.parent, e.hasParent
	d.advisory = e.advisory
	t.put(d)
}

// Rename moves the subtree at oldPath to newPath and refreshes the new node from the server.
// Children are preserved. Nothing is published when the refresh fails.
func (c *Collection) Rename(ctx context.Context, exec CommandExecutor, oldPath, newPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if cur == nil {
		return c.reinitLocked(ctx, exec)
	}
	s := cur.clone()
	from, to := s.normalize(oldPath), s.normalize(newPath)
	movePath(s.list, from, to, c.ns)
	movePath(s.lsub, from, to, c.ns)
	if err := c.addSingleLocked(ctx, exec, s, newPath); err != nil {
		return err
	}
	s.reindexSpecialUse(remapSpecial(cur.special, from, to, cur.separator()))
	c.publish(s, false)
	return nil
}

func movePath(t *tree, from, to string, ns Namespaces) {
	e := t.get(from)
	if e == nil || e.IsRoot() || from == to {
		return
	}
	moved := t.descendants(e)
	t.removeSubtree(from)
	for _, m := range moved {
		delete(t.entries, m.fullPath)
	}
	for _, m := range moved {
		n := m.clone()
		n.fullPath = to + m.fullPath[len(from):]
		n.originalPath = ""
		n.children = make(map[string]struct{})
		n.parent, n.hasParent = "", false
		t.put(n)
	}
	for _, m := range moved {
		t.attach(t.get(to+m.fullPath[len(from):]), ns)
	}
}

func remapSpecial(idx specialIndex, from, to string, sep rune) specialIndex {
	out := newSpecialIndex()
	prefix := from + string(sep)
	for use, paths := range idx {
		for p := range paths {
			switch {
			case p == from:
				p = to
			case sep != 0 && len(p) > len(prefix) && p[:len(prefix)] == prefix:
				p = to + p[len(from):]
			}
			out[use][p] = struct{}{}
		}
	}
	return out
}

// Remove deletes one subtree from both views without a rebuild.
func (c *Collection) Remove(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	if cur == nil {
		return false
	}
	s := cur.clone()
	target := s.normalize(path)
	removed := append(s.list.removeSubtree(target), s.lsub.removeSubtree(target)...)
	if len(removed) == 0 {
		return false
	}
	for _, e := range removed {
		s.special.drop(e.fullPath)
	}
	s.mbox = considerMbox(s.list)
	c.publish(s, false)
	return true
}

func (c *Collection) publish(s *snapshot, refreshed bool) {
	c.snap.Store(s)
	if refreshed {
		c.lastRefresh.Store(c.opts.Now().UnixMilli())
		c.state.Store(int32(StateInitialized))
	}
}
