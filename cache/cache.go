// Package cache provides a generic, thread-safe LRU cache for values that
// are expensive to compute and deterministic, such as compiled FHIRPath
// expressions.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 256

// Cache is a thread-safe LRU cache with hit/miss counters.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	capacity int

	hits   atomic.Uint64
	misses atomic.Uint64
	evicts atomic.Uint64
}

// entry is the payload of a list element. err is set when the value came
// from a failed computation.
type entry[K comparable, V any] struct {
	key   K
	value V
	err   error
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[K, V]{
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
	}
}

// Get returns the value stored for key. Entries holding a computation
// error are reported as missing.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		if e.err == nil {
			c.order.MoveToFront(el)
			c.hits.Add(1)
			return e.value, true
		}
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores value for key, evicting the least recently used entry when
// the cache is full.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value, nil)
}

// GetOrCompute returns the cached result for key, computing and storing it
// on a miss. Errors are cached too: the computation must be deterministic.
// fn runs under the cache lock and must not call back into the cache.
func (c *Cache[K, V]) GetOrCompute(key K, fn func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		c.hits.Add(1)
		e := el.Value.(*entry[K, V])
		return e.value, e.err
	}
	c.misses.Add(1)
	value, err := fn()
	c.put(key, value, err)
	return value, err
}

// put must be called with mu held.
func (c *Cache[K, V]) put(key K, value V, err error) {
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value, e.err = value, err
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*entry[K, V]).key)
			c.order.Remove(oldest)
			c.evicts.Add(1)
		}
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, err: err})
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		delete(c.items, key)
		c.order.Remove(el)
	}
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}

// Stats holds cache statistics.
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
	Evicts   uint64
	HitRate  float64
}

// Stats returns a snapshot of the cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	size := c.Len()
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		Evicts:   c.evicts.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
