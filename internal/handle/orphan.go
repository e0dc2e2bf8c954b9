package handle

import "sync"

// Orphans tracks inode numbers whose link count reached zero while open
// handles remained. It deliberately stores nothing but the ino: per
// spec.md §9, coupling it to InodeState would create a reference cycle,
// so finalization looks the state back up by ino at release time instead.
type Orphans struct {
	mu  sync.Mutex
	set map[uint64]struct{}
}

// NewOrphans returns an empty orphan set.
func NewOrphans() *Orphans {
	return &Orphans{set: make(map[uint64]struct{})}
}

// Add marks ino as orphaned.
func (o *Orphans) Add(ino uint64) {
	o.mu.Lock()
	o.set[ino] = struct{}{}
	o.mu.Unlock()
}

// Contains reports whether ino is in the orphan set.
func (o *Orphans) Contains(ino uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.set[ino]
	return ok
}

// Remove clears ino from the orphan set, called once finalize_unlink has
// freed its inode bit and data file.
func (o *Orphans) Remove(ino uint64) {
	o.mu.Lock()
	delete(o.set, ino)
	o.mu.Unlock()
}

// Snapshot returns the current orphan ino list, for the background
// writer's sweep.
func (o *Orphans) Snapshot() []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]uint64, 0, len(o.set))
	for ino := range o.set {
		out = append(out, ino)
	}
	return out
}
