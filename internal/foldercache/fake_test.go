package foldercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errConnectionReset = errors.New("connection reset by peer")

func rec(name string, attrs ...string) Record {
	return Record{Attributes: attrs, Delimiter: "/", Name: name}
}

// fakeExecutor answers listing commands from canned records. Single-path patterns are served by
// exact match against the "*" listing.
type fakeExecutor struct {
	mu sync.Mutex

	root       []Record
	list       []Record
	lsub       []Record
	special    []Record
	specialErr error
	listErr    error
	exists     map[string]bool
	existsErr  error
	ns         Namespaces
	nsErr      error
	caps       Capabilities
	counts     map[string]MessageCounts

	calls        map[string]int
	unsubscribed []string
}

func newFakeExecutor(list, lsub []Record) *fakeExecutor {
	return &fakeExecutor{
		root:   []Record{{Attributes: []string{`\Noselect`}, Delimiter: "/", Name: ""}},
		list:   list,
		lsub:   lsub,
		exists: make(map[string]bool),
		caps:   Capabilities{"IMAP4REV1": true},
		counts: make(map[string]MessageCounts),
		calls:  make(map[string]int),
	}
}

var _ Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) count(cmd string) {
	f.calls[cmd]++
}

func (f *fakeExecutor) Calls(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cmd]
}

func (f *fakeExecutor) set(fn func(f *fakeExecutor)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeExecutor) List(_ context.Context, pattern string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("LIST " + pattern)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return match(pattern, f.root, f.list), nil
}

func (f *fakeExecutor) Lsub(_ context.Context, pattern string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("LSUB " + pattern)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return match(pattern, f.root, f.lsub), nil
}

func match(pattern string, root, records []Record) []Record {
	switch pattern {
	case "":
		return append([]Record(nil), root...)
	case "*":
		return append([]Record(nil), records...)
	}
	var out []Record
	for _, r := range records {
		if r.Name == pattern {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeExecutor) ListSpecialUse(context.Context) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("LIST SPECIAL-USE")
	if f.specialErr != nil {
		return nil, f.specialErr
	}
	return append([]Record(nil), f.special...), nil
}

func (f *fakeExecutor) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EXISTS " + path)
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists[path], nil
}

func (f *fakeExecutor) Unsubscribe(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("UNSUBSCRIBE")
	f.unsubscribed = append(f.unsubscribed, path)
	return nil
}

func (f *fakeExecutor) Namespace(context.Context) (Namespaces, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("NAMESPACE")
	return f.ns, f.nsErr
}

func (f *fakeExecutor) Capabilities(context.Context) (Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CAPABILITY")
	return f.caps, nil
}

func (f *fakeExecutor) Status(_ context.Context, path string) (MessageCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("STATUS")
	c, ok := f.counts[path]
	if !ok {
		return MessageCounts{}, fmt.Errorf("NO mailbox %q does not exist", path)
	}
	return c, nil
}

// fakeConnector hands out the same executor for every account and records the connection
// requests.
type fakeConnector struct {
	mu        sync.Mutex
	exec      *fakeExecutor
	err       error
	requests  int
	forceNew  int
	released  int
	loadDelay time.Duration
	// onExecutor runs after an executor was handed out, outside the lock.
	onExecutor func()
}

func (c *fakeConnector) Executor(_ context.Context, _ AccountKey, forceNewConnection bool) (Executor, func(), error) {
	c.mu.Lock()
	c.requests++
	if forceNewConnection {
		c.forceNew++
	}
	err, delay, hook := c.err, c.loadDelay, c.onExecutor
	c.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, nil, err
	}
	return c.exec, func() {
		c.mu.Lock()
		c.released++
		c.mu.Unlock()
	}, nil
}

func (c *fakeConnector) stats() (requests, forceNew, released int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests, c.forceNew, c.released
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
