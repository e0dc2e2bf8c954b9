package meta

import "sync"

// dirEntries is one directory's lazily-built name -> ino index.
type dirEntries struct {
	names map[string]uint64
}

// DirCache is the per-directory lazy name -> ino map cache of spec.md §2/
// §4.1. The first read of a directory scans every d_<parent>_* key
// (merged with pending), builds the index, and memoizes it; all later
// mutations in this process route through the cache so it stays
// consistent with pending changes without re-scanning.
type DirCache struct {
	meta *Meta

	mu  sync.Mutex
	dir map[uint64]*dirEntries
	neg map[uint64]*NegativeCache
}

// NewDirCache returns an empty cache bound to m.
func NewDirCache(m *Meta) *DirCache {
	return &DirCache{
		meta: m,
		dir:  make(map[uint64]*dirEntries),
		neg:  make(map[uint64]*NegativeCache),
	}
}

func (c *DirCache) negCacheFor(parent uint64) *NegativeCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	nc, ok := c.neg[parent]
	if !ok {
		nc = NewNegativeCache()
		c.neg[parent] = nc
	}
	return nc
}

// entriesFor returns the memoized index for parent, building it from the
// store on first access.
func (c *DirCache) entriesFor(parent uint64) (*dirEntries, error) {
	c.mu.Lock()
	if e, ok := c.dir[parent]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	scanned, err := c.meta.ScanDir(parent)
	if err != nil {
		return nil, err
	}

	e := &dirEntries{names: scanned}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have built it first; keep whichever was built,
	// they're equivalent modulo a race with a concurrent mutation that
	// Insert/Remove will have also applied to an already-cached entry.
	if existing, ok := c.dir[parent]; ok {
		return existing, nil
	}
	c.dir[parent] = e
	return e, nil
}

// Lookup resolves name within parent, consulting the negative cache first.
func (c *DirCache) Lookup(parent uint64, name string) (ino uint64, found bool, err error) {
	if c.negCacheFor(parent).Hit(name) {
		return 0, false, nil
	}

	e, err := c.entriesFor(parent)
	if err != nil {
		return 0, false, err
	}

	c.mu.Lock()
	ino, found = e.names[name]
	c.mu.Unlock()

	if !found {
		c.negCacheFor(parent).Insert(name)
	}
	return ino, found, nil
}

// Insert records that name now resolves to ino within parent, both in the
// index and by clearing any stale negative entry.
func (c *DirCache) Insert(parent uint64, name string, ino uint64) error {
	e, err := c.entriesFor(parent)
	if err != nil {
		return err
	}

	c.mu.Lock()
	e.names[name] = ino
	c.mu.Unlock()

	c.negCacheFor(parent).Clear(name)
	return nil
}

// Remove drops name from parent's index.
func (c *DirCache) Remove(parent uint64, name string) error {
	e, err := c.entriesFor(parent)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(e.names, name)
	c.mu.Unlock()
	return nil
}

// Len returns the number of entries currently indexed for parent (building
// the index if necessary). Used by rmdir's emptiness check.
func (c *DirCache) Len(parent uint64) (int, error) {
	e, err := c.entriesFor(parent)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(e.names), nil
}

// Snapshot returns a stable copy of parent's current name -> ino mapping,
// used by DirHandle to take the readdir snapshot described in spec.md
// §4.5/§9.
func (c *DirCache) Snapshot(parent uint64) (map[string]uint64, error) {
	e, err := c.entriesFor(parent)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(e.names))
	for k, v := range e.names {
		out[k] = v
	}
	return out, nil
}

// Invalidate drops parent's cached index entirely, forcing the next access
// to rebuild it from the store. Called when a directory is removed by
// rmdir or displaced by rename.
func (c *DirCache) Invalidate(parent uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dir, parent)
	delete(c.neg, parent)
}
