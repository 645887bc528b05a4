// Package cache provides a generic, thread-safe LRU cache with hit/miss
// accounting, used to memoize parsed packages between loads.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 64

// Cache is an LRU cache keyed by K with built-in metrics.
type Cache[K comparable, V any] struct {
	inner    *lru.Cache[K, V]
	capacity int

	// guards GetOrSet so a value is computed once per key
	fill sync.Mutex

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
	sets   atomic.Uint64
}

// New creates a Cache holding at most capacity entries.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, err := lru.New[K, V](capacity)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Cache[K, V]{inner: inner, capacity: capacity}
}

// Get returns the cached value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.inner.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set adds or replaces a value, evicting the least recently used entry when full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.sets.Add(1)
	if c.inner.Add(key, value) {
		c.evicts.Add(1)
	}
}

// GetOrSet returns the value for key, computing and storing it with fn on a
// miss. Concurrent callers for a missing key wait for the first computation.
func (c *Cache[K, V]) GetOrSet(key K, fn func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.fill.Lock()
	defer c.fill.Unlock()

	if v, ok := c.inner.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key from the cache. Removals are not counted as evictions.
func (c *Cache[K, V]) Delete(key K) {
	c.inner.Remove(key)
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.inner.Len()
}

// Clear drops every entry. Dropped entries are not counted as evictions.
func (c *Cache[K, V]) Clear() {
	c.inner.Purge()
}

// Keys returns the cached keys from oldest to newest.
func (c *Cache[K, V]) Keys() []K {
	return c.inner.Keys()
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	Sets     uint64
	HitRate  float64
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:     c.inner.Len(),
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
		Sets:     c.sets.Load(),
		HitRate:  hitRate,
	}
}
