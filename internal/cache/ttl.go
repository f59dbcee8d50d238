// Package cache provides the TTL cache injected in front of preview-data
// lookups.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value    []byte
	storedAt time.Time
}

// TTL caches byte payloads by key for a fixed duration measured from the
// timestamp passed to Set.
//
// Every Invalidate advances a generation. Readers capture Generation before
// loading from the backing store and pass it to Set, so a value loaded
// before a concurrent write is never stored after that write invalidated it.
type TTL struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]entry
	gen   uint64
}

// NewTTL returns a cache; ttl <= 0 disables caching.
func NewTTL(ttl time.Duration, now func() time.Time) *TTL {
	if now == nil {
		now = time.Now
	}
	return &TTL{ttl: ttl, now: now, items: make(map[string]entry)}
}

func (c *TTL) Get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(item.storedAt) >= c.ttl {
		delete(c.items, key)
		return nil, false
	}
	return item.value, true
}

// Generation is the token a reader passes to Set.
func (c *TTL) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores value unless an Invalidate happened since gen was read. It
// reports whether the value was stored.
func (c *TTL) Set(key string, value []byte, at time.Time, gen uint64) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.items[key] = entry{value: value, storedAt: at}
	return true
}

func (c *TTL) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.gen++
	c.mu.Unlock()
}

// Len counts entries, including expired ones not yet evicted.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
