// Package expiry implements a small bounded TTL map. It backs the in-memory
// dedup and forward-mapping stores, which share the same eviction rules:
// expired entries are purged lazily before every operation, and when a
// capacity is set the oldest-by-update entry is dropped once the bound is
// exceeded.
package expiry

import (
	"sync"
	"time"
)

// Option configures a Map.
type Option[V any] func(*Map[V])

// WithClock overrides the time source; used by tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(m *Map[V]) { m.now = now }
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	updatedAt time.Time
}

// Map is a mutex-guarded TTL map with optional capacity bound.
// A capacity of 0 means unbounded.
type Map[V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]entry[V]
	now      func() time.Time
}

// NewMap creates a Map with the given TTL and capacity.
func NewMap[V any](ttl time.Duration, capacity int, opts ...Option[V]) *Map[V] {
	m := &Map[V]{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]entry[V]),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the live value for key, purging expired entries first.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.purge(now)

	e, ok := m.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set inserts or refreshes key, evicting the oldest entry when the capacity
// bound would otherwise be exceeded.
func (m *Map[V]) Set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(m.now(), key, value)
}

// Add atomically checks membership and inserts if absent. It returns true
// iff the key was already present and unexpired.
func (m *Map[V]) Add(key string, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.purge(now)

	if _, ok := m.entries[key]; ok {
		return true
	}
	m.set(now, key, value)
	return false
}

// Len reports the number of live entries.
func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(m.now())
	return len(m.entries)
}

func (m *Map[V]) set(now time.Time, key string, value V) {
	m.purge(now)

	_, existed := m.entries[key]
	m.entries[key] = entry[V]{
		value:     value,
		expiresAt: now.Add(m.ttl),
		updatedAt: now,
	}
	if !existed && m.capacity > 0 && len(m.entries) > m.capacity {
		m.evictOldest()
	}
}

func (m *Map[V]) purge(now time.Time) {
	for key, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, key)
		}
	}
}

func (m *Map[V]) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range m.entries {
		if first || e.updatedAt.Before(oldestAt) {
			oldestKey, oldestAt = key, e.updatedAt
			first = false
		}
	}
	if !first {
		delete(m.entries, oldestKey)
	}
}
