package pathspace

import (
	"sync"
	"sync/atomic"
	"time"
)

// CacheStats reports lookup cache effectiveness counters.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
}

type cacheEntry struct {
	leaf    *leaf
	expires time.Time
}

// lookupCache maps concrete paths to resolved leaves so repeated reads skip
// the trie walk. Entries carry an absolute TTL and die when their leaf is
// detached from the tree, so a hit is always a live node. Eviction over
// capacity is oldest-inserted first, not recency-based: a hot entry still
// ages out, which bounds how stale the cache can get.
type lookupCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	order   []string
	cap     int
	ttl     time.Duration

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

func newLookupCache(capacity int, ttl time.Duration) *lookupCache {
	return &lookupCache{
		entries: map[string]cacheEntry{},
		cap:     capacity,
		ttl:     ttl,
	}
}

func (c *lookupCache) enabled() bool {
	return c.cap > 0
}

// get returns the cached leaf for path, or nil on a miss. Expired and
// detached entries count as misses; they are purged lazily by cleanup.
func (c *lookupCache) get(path string) *leaf {
	if !c.enabled() {
		return nil
	}
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) || e.leaf.isDetached() {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return e.leaf
}

func (c *lookupCache) put(path string, l *leaf) {
	if !c.enabled() || l == nil {
		return
	}
	c.mu.Lock()
	if _, ok := c.entries[path]; !ok {
		c.order = append(c.order, path)
	}
	c.entries[path] = cacheEntry{leaf: l, expires: time.Now().Add(c.ttl)}
	for len(c.entries) > c.cap {
		c.evictOldestLocked()
	}
	c.mu.Unlock()
}

// evictOldestLocked drops the oldest still-present entry. order may carry
// keys already invalidated; those are skipped and compacted away.
func (c *lookupCache) evictOldestLocked() {
	for len(c.order) > 0 {
		path := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[path]; ok {
			delete(c.entries, path)
			return
		}
	}
}

func (c *lookupCache) invalidate(path string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	if _, ok := c.entries[path]; ok {
		delete(c.entries, path)
		c.invalidations.Add(1)
	}
	c.mu.Unlock()
}

// invalidatePrefix drops the entry at prefix and everything below it.
func (c *lookupCache) invalidatePrefix(prefix string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	for path := range c.entries {
		if path == prefix || isPathPrefix(prefix, path) {
			delete(c.entries, path)
			c.invalidations.Add(1)
		}
	}
	c.mu.Unlock()
}

// invalidatePattern drops every entry whose path matches the glob pattern.
// A malformed pattern invalidates nothing.
func (c *lookupCache) invalidatePattern(pattern string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	for path := range c.entries {
		if ok, err := MatchPaths(pattern, path); err == nil && ok {
			delete(c.entries, path)
			c.invalidations.Add(1)
		}
	}
	c.mu.Unlock()
}

func (c *lookupCache) clear() {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	n := len(c.entries)
	c.entries = map[string]cacheEntry{}
	c.order = nil
	c.mu.Unlock()
	c.invalidations.Add(uint64(n))
}

// cleanup purges expired and dead entries, then evicts oldest-inserted
// entries until within capacity.
func (c *lookupCache) cleanup() {
	if !c.enabled() {
		return
	}
	now := time.Now()
	c.mu.Lock()
	live := c.order[:0]
	for _, path := range c.order {
		e, ok := c.entries[path]
		if !ok {
			continue
		}
		if now.After(e.expires) || e.leaf.isDetached() {
			delete(c.entries, path)
			continue
		}
		live = append(live, path)
	}
	c.order = live
	for len(c.entries) > c.cap {
		c.evictOldestLocked()
	}
	c.mu.Unlock()
}

func (c *lookupCache) stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

func (c *lookupCache) resetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.invalidations.Store(0)
}

func (c *lookupCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
