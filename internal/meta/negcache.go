package meta

import (
	"sync"
	"time"
)

// negativeTTL is how long a negative lookup (a name known not to exist in
// a directory) is cached before it must be re-checked against the store.
// spec.md §4.1 calls for a "short TTL". The cache is in-process only: the
// adapter answers a lookup miss with ENOENT and gives the kernel no
// negative entry to cache.
const negativeTTL = 1 * time.Second

// NegativeCache remembers recent lookup misses for one directory so that
// repeated lookups of names that don't exist (a common pattern — shells
// probing $PATH, editors checking for swap files) don't have to rebuild or
// re-scan the directory index.
type NegativeCache struct {
	mu     sync.Mutex
	missAt map[string]time.Time
}

// NewNegativeCache returns an empty cache.
func NewNegativeCache() *NegativeCache {
	return &NegativeCache{missAt: make(map[string]time.Time)}
}

// Insert records name as a recent miss.
func (c *NegativeCache) Insert(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missAt[name] = time.Now()
}

// Hit reports whether name was recorded as a miss within the TTL.
func (c *NegativeCache) Hit(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.missAt[name]
	if !ok {
		return false
	}
	if time.Since(t) > negativeTTL {
		delete(c.missAt, name)
		return false
	}
	return true
}

// Clear drops a single name from the cache — used when a dentry with that
// name is created, so a stale negative entry can't shadow it.
func (c *NegativeCache) Clear(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.missAt, name)
}
