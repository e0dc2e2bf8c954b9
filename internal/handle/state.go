// Package handle implements the process-wide open-file bookkeeping
// described in spec.md §4.5: per-inode reference counting, file and
// directory handles, and the orphan set used for deferred unlink.
package handle

import (
	"sync"

	"github.com/abbycin/junkfs/internal/meta"
)

// State is the ref-counted record FUSE's lookup/forget protocol is
// layered on: one per inode with a nonzero lookup count or open handle.
type State struct {
	Ino uint64

	mu            sync.Mutex
	cached        meta.Inode // GUARDED_BY(mu)
	lookupCount   uint64     // GUARDED_BY(mu), FUSE nlookup
	openCount     int        // GUARDED_BY(mu)
	dirty         bool       // GUARDED_BY(mu)
	pendingUnlink bool       // GUARDED_BY(mu), orphan path: links==0, openCount>0
}

func newState(ino uint64, in meta.Inode) *State {
	return &State{Ino: ino, cached: in}
}

// Inode returns a copy of the cached inode record.
func (s *State) Inode() meta.Inode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// SetInode replaces the cached inode record, e.g. after a metadata write.
func (s *State) SetInode(in meta.Inode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = in
}

// MarkDirty flags the inode as having an unflushed length/mtime update.
func (s *State) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// TakeDirty clears and returns the dirty flag.
func (s *State) TakeDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirty
	s.dirty = false
	return d
}

// AddLookup increments nlookup by n (FUSE lookup/readdirplus accounting).
func (s *State) AddLookup(n uint64) {
	s.mu.Lock()
	s.lookupCount += n
	s.mu.Unlock()
}

// Forget decrements nlookup by n and reports whether the state is now
// garbage: nlookup reached zero and no handle has it open.
func (s *State) Forget(n uint64) (dead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= s.lookupCount {
		s.lookupCount = 0
	} else {
		s.lookupCount -= n
	}
	return s.lookupCount == 0 && s.openCount == 0
}

// Open increments the open-handle count.
func (s *State) Open() {
	s.mu.Lock()
	s.openCount++
	s.mu.Unlock()
}

// Release decrements the open-handle count and returns the remaining
// count, the pending-unlink flag, and whether the state is now garbage
// (mirrors Forget's criterion).
func (s *State) Release() (openCount int, pendingUnlink bool, dead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openCount > 0 {
		s.openCount--
	}
	return s.openCount, s.pendingUnlink, s.openCount == 0 && s.lookupCount == 0
}

// OpenCount returns the current open-handle count.
func (s *State) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCount
}

// SetPendingUnlink marks the inode as orphaned: links have reached zero
// while handles remain open, per spec.md §4.5's deferred-unlink rule.
func (s *State) SetPendingUnlink() {
	s.mu.Lock()
	s.pendingUnlink = true
	s.mu.Unlock()
}

// PendingUnlink reports whether the inode is orphaned.
func (s *State) PendingUnlink() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingUnlink
}

// InodeTable is the process-wide inode-state table, keyed by ino.
type InodeTable struct {
	mu     sync.Mutex
	states map[uint64]*State
}

// NewInodeTable returns an empty inode-state table.
func NewInodeTable() *InodeTable {
	return &InodeTable{states: make(map[uint64]*State)}
}

// GetOrCreate returns the existing state for ino, or creates one seeded
// with in if none exists yet.
func (t *InodeTable) GetOrCreate(ino uint64, in meta.Inode) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[ino]
	if !ok {
		s = newState(ino, in)
		t.states[ino] = s
	}
	return s
}

// Get returns the existing state for ino, if any.
func (t *InodeTable) Get(ino uint64) (*State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[ino]
	return s, ok
}

// Drop removes ino's state. Callers must have already established the
// state is garbage (see State.Forget/Release).
func (t *InodeTable) Drop(ino uint64) {
	t.mu.Lock()
	delete(t.states, ino)
	t.mu.Unlock()
}

// Len reports the number of live inode states, for tests and diagnostics.
func (t *InodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
