// ABOUTME: Bounded seen-set for deduplicating notification keys
// ABOUTME: Entries live for the cache lifetime or a TTL; oldest keys are evicted at capacity

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxSize bounds a cache created with maxSize <= 0.
const DefaultMaxSize = 1024

type cacheEntry struct {
	marked  time.Time
	element *list.Element
}

// Cache remembers keys it has been asked about. With a zero TTL a key is
// remembered until it is evicted for space or the cache is discarded,
// which gives "at most once per session lifetime" for a cache owned by a
// session. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache. ttl <= 0 means entries never expire and no sweeper
// runs; otherwise expired entries are swept every ttl.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.sweep()
	}
	return c
}

// Seen reports whether key is currently remembered.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && !c.expiredLocked(e)
}

// CheckAndMark reports whether key was already seen, and marks it if not.
// The check and the mark are one atomic step.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		if !c.expiredLocked(e) {
			return true
		}
		c.order.Remove(e.element)
		delete(c.seen, key)
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[key] = &cacheEntry{
		marked:  c.now(),
		element: c.order.PushBack(key),
	}
	return false
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func (c *Cache) expiredLocked(e *cacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.marked) >= c.ttl
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepOnce()
		case <-c.done:
			return
		}
	}
}

// sweepOnce drops expired entries. Insertion order matches mark order, so
// it stops at the first live entry.
func (c *Cache) sweepOnce() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		e := c.seen[key]
		if e == nil || !c.expiredLocked(e) {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}
