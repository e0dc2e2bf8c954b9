package handle

import "github.com/abbycin/junkfs/internal/cachestore"

// FileHandle is one open() of a regular file. Each handle owns its own
// CacheStore; spec.md §4.5 provides no cross-handle coherence beyond
// fsync.
type FileHandle struct {
	ID    uint64
	Ino   uint64
	Flags uint32
	Cache *cachestore.Store
}
