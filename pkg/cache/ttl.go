package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with its expiry.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// TTLCache is an in-process map whose entries expire individually. Expired
// entries are dropped lazily on access.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]Entry[V]
	now     func() time.Time
}

// NewTTLCache creates an empty cache. now may be nil to use the wall clock.
func NewTTLCache[K comparable, V any](now func() time.Time) *TTLCache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &TTLCache[K, V]{entries: make(map[K]Entry[V]), now: now}
}

// Get returns the live entry for key.
func (c *TTLCache[K, V]) Get(key K) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry[V]{}, false
	}
	return entry, true
}

// Put stores value for ttl. A non-positive ttl removes the key.
func (c *TTLCache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = Entry[V]{Value: value, ExpiresAt: c.now().Add(ttl)}
}

// Invalidate removes key.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]Entry[V])
}

// Len counts entries, including expired ones not yet dropped.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
