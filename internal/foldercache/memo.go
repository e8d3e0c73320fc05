package foldercache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// memo caches one value per account. Concurrent first loads share one call; errors are not
// cached.
type memo[V any] struct {
	mu     sync.RWMutex
	values map[AccountKey]V
	group  singleflight.Group
}

func newMemo[V any]() *memo[V] {
	return &memo[V]{values: make(map[AccountKey]V)}
}

func (m *memo[V]) get(ctx context.Context, key AccountKey, load func(context.Context) (V, error)) (V, error) {
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	if ok {
		return v, nil
	}

	res, err, _ := m.group.Do(key.String(), func() (any, error) {
		m.mu.RLock()
		v, ok := m.values[key]
		m.mu.RUnlock()
		if ok {
			return v, nil
		}
		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		m.mu.Lock()
		m.values[key] = v
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

func (m *memo[V]) peek(key AccountKey) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *memo[V]) invalidate(key AccountKey) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

func (m *memo[V]) dropUser(user userKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.values {
		if k.user() == user {
			delete(m.values, k)
		}
	}
}

func (m *memo[V]) clear() {
	m.mu.Lock()
	m.values = make(map[AccountKey]V)
	m.mu.Unlock()
}

// NamespaceCache memoizes the NAMESPACE answer per account.
type NamespaceCache struct {
	m *memo[Namespaces]
}

func NewNamespaceCache() *NamespaceCache {
	return &NamespaceCache{m: newMemo[Namespaces]()}
}

// Get returns the cached namespaces, asking exec on the first call.
func (c *NamespaceCache) Get(ctx context.Context, key AccountKey, exec Executor) (Namespaces, error) {
	return c.m.get(ctx, key, exec.Namespace)
}

// Peek returns the cached namespaces without a round trip.
func (c *NamespaceCache) Peek(key AccountKey) (Namespaces, bool) { return c.m.peek(key) }

func (c *NamespaceCache) Invalidate(key AccountKey) { c.m.invalidate(key) }

// CapabilityCache memoizes the CAPABILITY answer per account.
type CapabilityCache struct {
	m *memo[Capabilities]
}

func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{m: newMemo[Capabilities]()}
}

// Get returns the cached capabilities, asking exec on the first call.
func (c *CapabilityCache) Get(ctx context.Context, key AccountKey, exec Executor) (Capabilities, error) {
	return c.m.get(ctx, key, exec.Capabilities)
}

func (c *CapabilityCache) Invalidate(key AccountKey) { c.m.invalidate(key) }
