package meta

import (
	"fmt"
	"sync"

	"github.com/abbycin/junkfs/internal/junkerr"
)

// Allocator is the two-level inode bitmap described in spec.md §4.2: a
// group-summary bitset (imap_sum) plus one per-group bitset (imap_<gid>),
// loaded on demand. alloc() scans imap_sum for the first group with a free
// bit, loads that group, sets the first clear (free) bit in it, and writes
// the group bitset (plus imap_sum, when the group has just filled up) back
// through Meta in the same pending batch as the caller's
// other mutations (so allocation is atomic with the dentry/inode writes
// that use the new ino).
type Allocator struct {
	meta *Meta

	mu          sync.Mutex
	totalInodes uint64
	groupSize   uint64
	groupCount  uint64
	rootIno     uint64

	// reuse controls whether freed inode numbers are handed back out. When
	// false, allocation is biased toward never-seen slots by scanning from
	// highWatermark+1 first and only falling back to the low part of the
	// space — including reused slots — once the tail is exhausted.
	reuse         bool
	highWatermark uint64
}

// NewAllocator builds an Allocator bound to sb's group geometry.
func NewAllocator(m *Meta, sb *SuperBlock, reuse bool) *Allocator {
	return &Allocator{
		meta:        m,
		totalInodes: sb.TotalInodes,
		groupSize:   sb.GroupSize,
		groupCount:  sb.GroupCount,
		rootIno:     sb.RootIno,
		reuse:       reuse,
	}
}

func (a *Allocator) loadGroup(gid uint64) (bitset, error) {
	v, found, err := a.meta.get(imapGroupKey(gid))
	if err != nil {
		return nil, err
	}
	if !found {
		return newBitset(a.groupSize), nil
	}
	return bitset(v), nil
}

func (a *Allocator) loadSummary() (bitset, error) {
	v, found, err := a.meta.get([]byte(imapSumKey))
	if err != nil {
		return nil, err
	}
	if !found {
		// No summary yet: every group loads as empty, so every group is free.
		sum := newBitset(a.groupCount)
		for g := uint64(0); g < a.groupCount; g++ {
			sum.set(g, true)
		}
		return sum, nil
	}
	return bitset(v), nil
}

// Alloc returns a fresh, unused inode number in [1, totalInodes), skipping
// the reserved root inode. The bitmap writes are buffered in Meta's
// pending batch, not committed synchronously.
func (a *Allocator) Alloc() (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// The reserved root inode occupies one bitmap slot permanently; skip
	// past it by retrying within the same critical section instead of
	// recursing, so the lock is held for the whole operation.
	for {
		ino, skip, err := a.allocOnceLocked()
		if err != nil {
			return 0, err
		}
		if !skip {
			return ino, nil
		}
	}
}

// allocOnceLocked performs a single bitmap scan-and-claim. If the claimed
// slot turns out to be the reserved root inode (or otherwise out of
// range), it is marked permanently allocated and skip is returned true so
// the caller tries again.
//
// LOCKS_REQUIRED(a.mu)
func (a *Allocator) allocOnceLocked() (ino uint64, skip bool, err error) {
	sum, err := a.loadSummary()
	if err != nil {
		return 0, false, err
	}

	startGroup := uint64(0)
	if !a.reuse {
		startGroup = a.highWatermark / a.groupSize
	}

	gid, ok := sum.firstSet(startGroup, a.groupCount)
	if !ok && startGroup != 0 {
		// Tail exhausted; fall back to the low part of the space.
		gid, ok = sum.firstSet(0, a.groupCount)
	}
	if !ok {
		return 0, false, fmt.Errorf("%w: inode bitmap exhausted", junkerr.ErrNoSpace)
	}

	group, err := a.loadGroup(gid)
	if err != nil {
		return 0, false, err
	}

	startBit := uint64(0)
	if !a.reuse && gid == a.highWatermark/a.groupSize {
		startBit = a.highWatermark % a.groupSize
	}

	bit, ok := group.firstClear(startBit, a.groupSize)
	if !ok {
		bit, ok = group.firstClear(0, a.groupSize)
	}
	if !ok {
		return 0, false, fmt.Errorf("%w: inode bitmap exhausted", junkerr.ErrNoSpace)
	}

	ino = gid*a.groupSize + bit
	group.set(bit, true)
	groupFull := !group.anyClear(a.groupSize)
	a.meta.put(imapGroupKey(gid), []byte(group))
	if groupFull {
		sum.set(gid, false)
		a.meta.put([]byte(imapSumKey), []byte(sum))
	}

	if ino == a.rootIno || ino == 0 || ino >= a.totalInodes {
		return ino, true, nil
	}

	if ino > a.highWatermark {
		a.highWatermark = ino
	}

	return ino, false, nil
}

// Free returns ino to the pool. It is safe to call for any previously
// allocated, non-root ino.
func (a *Allocator) Free(ino uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	gid := ino / a.groupSize
	bit := ino % a.groupSize

	group, err := a.loadGroup(gid)
	if err != nil {
		return err
	}
	wasFullBefore := true
	if _, ok := group.firstClear(0, a.groupSize); ok {
		wasFullBefore = false
	}

	group.set(bit, false)
	a.meta.put(imapGroupKey(gid), []byte(group))

	if wasFullBefore {
		sum, err := a.loadSummary()
		if err != nil {
			return err
		}
		sum.set(gid, true)
		a.meta.put([]byte(imapSumKey), []byte(sum))
	}

	return nil
}
