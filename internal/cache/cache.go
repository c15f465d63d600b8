// Package cache provides a generic in-memory TTL cache for reportd.
// The execution engine keys report results by configuration fingerprint,
// with a per-entry TTL derived from the owning data source's refresh rate.
// Thread-safe via sync.RWMutex; the result cache is the only shared
// resource touched by concurrent executions.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is the default time-to-live for cache entries (15 minutes).
const DefaultTTL = 15 * time.Minute

// DefaultMaxEntries is the default maximum number of cache entries.
const DefaultMaxEntries = 1000

// Options configures a Cache instance.
type Options struct {
	// TTL is the default time-to-live for each entry. Zero uses DefaultTTL.
	TTL time.Duration

	// MaxEntries is the maximum number of entries before eviction. Zero uses DefaultMaxEntries.
	MaxEntries int
}

// entry holds a cached value and its expiration time.
type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// Cache is a generic in-memory cache with TTL expiration and max-entries
// eviction. Keys must be comparable; values can be any type.
//
// Eviction policy: when max entries is reached, expired entries are cleaned
// first. If still at capacity, the oldest entry by insertion order is evicted.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	entries    map[K]entry[V]
	order      []K // insertion order for eviction
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// New creates a new Cache with the given options.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache[K, V]{
		entries:    make(map[K]entry[V]),
		order:      make([]K, 0),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// SetClock injects a clock for deterministic expiry tests.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get retrieves a value by key. Returns the value, its age, and true if
// found and not expired. The age lets callers apply a stricter freshness
// window than the entry's TTL.
func (c *Cache[K, V]) Get(key K) (V, time.Duration, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	if !ok {
		var zero V
		return zero, 0, false
	}

	if now.After(e.expiresAt) {
		// Entry expired, remove it lazily.
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		var zero V
		return zero, 0, false
	}

	return e.value, now.Sub(e.storedAt), true
}

// Set adds or updates a cache entry with the cache's default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL adds or updates a cache entry with an explicit TTL. If the
// cache is at capacity, it first cleans expired entries, then evicts the
// oldest entry if still full.
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := entry[V]{value: value, storedAt: now, expiresAt: now.Add(ttl)}

	// If key already exists, update in place (don't change order).
	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}

	// Ensure capacity: clean expired first, then evict oldest if needed.
	if len(c.entries) >= c.maxEntries {
		c.cleanExpiredLocked()
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = e
	c.order = append(c.order, key)
}

// Delete removes a single entry by key. No-op if the key doesn't exist.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear removes all entries from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
	c.order = c.order[:0]
}

// Len returns the number of entries currently in the cache (including expired but not yet cleaned).
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// removeLocked removes a key from both the map and the order slice.
// Caller must hold c.mu (write lock).
func (c *Cache[K, V]) removeLocked(key K) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// cleanExpiredLocked removes all expired entries.
// Caller must hold c.mu (write lock).
func (c *Cache[K, V]) cleanExpiredLocked() {
	now := c.now()
	var remaining []K
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok && now.After(e.expiresAt) {
			delete(c.entries, k)
		} else {
			remaining = append(remaining, k)
		}
	}
	c.order = remaining
}

// evictOldestLocked removes the oldest entry by insertion order.
// Caller must hold c.mu (write lock).
func (c *Cache[K, V]) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}
