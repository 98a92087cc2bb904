// Package localcache implements the C2 In-Process Cache: a bounded,
// thread-safe LRU+TTL map of key to JSON value with atomic hit/miss
// counters, built on hashicorp/golang-lru's expirable LRU (already an
// indirect dependency of the teacher, promoted here to direct use) instead
// of a hand-rolled eviction list.
package localcache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/marketfanout/engine/internal/domain"
)

const (
	// DefaultCapacity is the bound on the number of entries (spec §4.2).
	DefaultCapacity = 2000
	// DefaultTTL is the per-entry TTL applied when a caller does not pick one.
	DefaultTTL = 5 * time.Minute
	// DefaultIdleDeadline evicts an entry that has not been read in this long,
	// even if its TTL has not yet elapsed.
	DefaultIdleDeadline = 2 * time.Minute
)

type entry struct {
	value      domain.Snapshot
	expiresAt  time.Time
	lastAccess time.Time
	idleAfter  time.Duration
}

// Cache is the bounded LRU+TTL in-process cache.
type Cache struct {
	mu       sync.Mutex
	backing  *lru.LRU[string, *entry]
	hits     atomic.Int64
	misses   atomic.Int64
}

// Stats reports the monotonic hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
	Len    int
}

// New builds a cache bounded at capacity entries, with container-level TTL
// bounding how long any entry can survive regardless of its own requested
// TTL (hashicorp/golang-lru's expirable LRU applies one TTL per container;
// per-key TTLs shorter than that ceiling are enforced on read by comparing
// against the entry's own expiresAt).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{}
	c.backing = lru.NewLRU[string, *entry](capacity, nil, DefaultTTL+time.Minute)
	return c
}

// Get returns the value for key if present and not expired/idle-evicted.
func (c *Cache) Get(key string) (domain.Snapshot, bool) {
	c.mu.Lock()
	e, ok := c.backing.Get(key)
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	now := time.Now()
	if now.After(e.expiresAt) || (e.idleAfter > 0 && now.Sub(e.lastAccess) > e.idleAfter) {
		c.backing.Remove(key)
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	e.lastAccess = now
	c.mu.Unlock()
	c.hits.Add(1)
	return e.value.Clone(), true
}

// Put stores value under key with the given TTL and the package's default
// idle-eviction deadline.
func (c *Cache) Put(key string, value domain.Snapshot, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	c.mu.Lock()
	c.backing.Add(key, &entry{
		value:      value.Clone(),
		expiresAt:  now.Add(ttl),
		lastAccess: now,
		idleAfter:  DefaultIdleDeadline,
	})
	c.mu.Unlock()
}

// Invalidate removes key unconditionally.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	c.backing.Remove(key)
	c.mu.Unlock()
}

// Stats returns the current hit/miss counters and entry count.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := c.backing.Len()
	c.mu.Unlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Len: n}
}
