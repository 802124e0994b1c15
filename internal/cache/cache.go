// Package cache provides a generic fixed-capacity LRU used to bound
// in-memory indexes.
package cache

import "sync"

type node[K comparable, V any] struct {
	key        K
	val        V
	prev, next *node[K, V]
}

// LRU is a thread-safe least-recently-used cache with a fixed capacity.
// All operations run in O(1).
type LRU[K comparable, V any] struct {
	mu    sync.Mutex
	cap   int
	items map[K]*node[K, V]
	front *node[K, V] // most recently used
	back  *node[K, V] // next to evict
}

// New creates an LRU holding at most capacity entries. Panics if
// capacity < 1.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be >= 1")
	}
	return &LRU[K, V]{
		cap:   capacity,
		items: make(map[K]*node[K, V], capacity),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.touch(n)
	return n.val, true
}

// Peek returns the value for key without refreshing its recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return n.val, true
}

// Put stores key=val, evicting the least recently used entry when full.
func (c *LRU[K, V]) Put(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.val = val
		c.touch(n)
		return
	}

	if len(c.items) >= c.cap {
		victim := c.back
		c.unlink(victim)
		delete(c.items, victim.key)
	}

	n := &node[K, V]{key: key, val: val}
	c.items[key] = n
	c.pushFront(n)
}

// Delete removes key, reporting whether it was present.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(n)
	delete(c.items, key)
	return true
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// List maintenance. Caller holds mu.

func (c *LRU[K, V]) pushFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.front
	if c.front != nil {
		c.front.prev = n
	}
	c.front = n
	if c.back == nil {
		c.back = n
	}
}

func (c *LRU[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.front = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.back = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *LRU[K, V]) touch(n *node[K, V]) {
	if c.front == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}
