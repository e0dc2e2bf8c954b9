// Package cachestore implements the per-file-handle writeback buffer
// described in spec.md §4.4: writes are staged into pages drawn from a
// mempool.Pool, coalesced in submission order, and issued to the host
// data file on flush with one positional write per coalesced run.
package cachestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/abbycin/junkfs/internal/filestore"
	"github.com/abbycin/junkfs/internal/mempool"
)

// DefaultFlushThreshold is the per-handle dirty-byte watermark that
// triggers an inline flush (spec.md §5).
const DefaultFlushThreshold = 64 << 20

// DefaultLargeWriteThreshold is the write size at or above which a write
// bypasses the cache and goes straight to FileStore (spec.md §4.4).
const DefaultLargeWriteThreshold = mempool.DefaultPageSize

// DefaultFlushTimeout is how long a dirty CacheStore can sit unflushed
// before the background writer forces a flush (spec.md §5).
const DefaultFlushTimeout = 200 * time.Millisecond

// entry is one staged write: len(data) bytes that belong at off in the
// inode's data file. data is a slice into one or more pool pages.
type entry struct {
	off  int64
	data []byte
	page *mempool.Page // page entry was cut from, nil for a merged entry
}

// Store buffers dirty writes for exactly one open file handle against one
// inode. It is not safe for concurrent use by more than one writer plus
// one flusher; entries is guarded by mu, and flush takes flushMu so an
// explicit flush and the background writer never flush at the same time.
type Store struct {
	ino   uint64
	pool  *mempool.Pool
	files *filestore.FileStore

	flushThreshold int64
	largeWrite     int

	mu          sync.Mutex
	entries     []entry
	dirtyBytes  int64
	lastMutated time.Time

	flushMu sync.Mutex

	highestWritten int64
	lengthDirty    bool
}

// New returns a Store for ino, drawing pages from pool and flushing
// through files.
func New(ino uint64, pool *mempool.Pool, files *filestore.FileStore) *Store {
	return &Store{
		ino:            ino,
		pool:           pool,
		files:          files,
		flushThreshold: DefaultFlushThreshold,
		largeWrite:     DefaultLargeWriteThreshold,
	}
}

// Write stages buf at off. Writes at or above the large-write threshold
// and aligned to the pool's page size bypass the cache entirely.
func (s *Store) Write(ctx context.Context, off int64, buf []byte) (int, error) {
	if len(buf) >= s.largeWrite && off%int64(s.pool.PageSize()) == 0 {
		n, err := s.files.Pwrite(s.ino, off, buf)
		if err != nil {
			return n, err
		}
		s.mu.Lock()
		s.noteWritten(off, int64(n))
		s.mu.Unlock()
		return n, nil
	}

	if err := s.stage(ctx, off, buf); err != nil {
		return 0, err
	}

	s.mu.Lock()
	over := s.dirtyBytes > s.flushThreshold
	s.mu.Unlock()
	if over {
		if err := s.Flush(ctx); err != nil {
			return 0, err
		}
	}
	return len(buf), nil
}

// stage copies buf into one or more pool pages and appends entries
// preserving write order.
func (s *Store) stage(ctx context.Context, off int64, buf []byte) error {
	written := 0
	for written < len(buf) {
		page, err := s.pool.Get(ctx)
		if err != nil {
			return fmt.Errorf("acquire cache page: %w", err)
		}
		n := copy(page.Bytes(), buf[written:])

		s.mu.Lock()
		entryOff := off + int64(written)
		s.entries = append(s.entries, entry{off: entryOff, data: page.Bytes()[:n], page: page})
		s.dirtyBytes += int64(n)
		s.lastMutated = now()
		s.noteWritten(entryOff, int64(n))
		s.mu.Unlock()

		written += n
	}
	return nil
}

// noteWritten updates the high-water mark used to grow the inode's
// length on flush. Callers must hold s.mu.
func (s *Store) noteWritten(off, n int64) {
	end := off + n
	if end > s.highestWritten {
		s.highestWritten = end
		s.lengthDirty = true
	}
}

// Dirty reports whether the store currently holds unflushed writes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) > 0
}

// IdleSince returns how long the store has held unflushed writes without
// a new mutation, used by the background writer's timeout check.
func (s *Store) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0
	}
	return since(s.lastMutated)
}

// Result summarizes a flush: the new inode length if it grew, and
// whether anything was actually flushed.
type Result struct {
	Length  int64
	Grew    bool
	Flushed bool
}

// Flush sorts and coalesces staged entries, issues them to FileStore, and
// releases their pages. Later writes win on overlap, matching spec.md
// §4.4. Flush is a no-op if nothing is dirty.
func (s *Store) Flush(ctx context.Context) error {
	result, err := s.FlushResult(ctx)
	if err == nil && result.Grew {
		// Nobody consumed the length growth; keep it for the next FlushResult.
		s.mu.Lock()
		s.lengthDirty = true
		s.mu.Unlock()
	}
	return err
}

// FlushResult is Flush but also reports the resulting inode length so
// callers can update metadata without a second lock round-trip.
func (s *Store) FlushResult(ctx context.Context) (Result, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.entries
	s.entries = nil
	dirty := s.dirtyBytes
	s.dirtyBytes = 0
	grew := s.lengthDirty
	length := s.highestWritten
	s.lengthDirty = false
	s.mu.Unlock()

	if len(pending) == 0 {
		return Result{Length: length, Grew: grew, Flushed: false}, nil
	}

	runs := coalesce(pending)
	for _, r := range runs {
		if _, err := s.files.Pwrite(s.ino, r.off, r.data); err != nil {
			// Put the entries back so a retry (next tick, or an explicit
			// fsync) doesn't lose data; pages stay owned by these entries.
			s.mu.Lock()
			s.entries = append(pending, s.entries...)
			s.dirtyBytes += dirty
			s.lengthDirty = s.lengthDirty || grew
			s.mu.Unlock()
			return Result{}, err
		}
	}

	for _, e := range pending {
		if e.page != nil {
			s.pool.Put(e.page)
		}
	}

	return Result{Length: length, Grew: grew, Flushed: true}, nil
}

// TryFlush attempts a non-blocking flush, used by the background writer:
// if another goroutine already holds the flush lock, it skips and lets
// the next tick retry, per spec.md §5.
func (s *Store) TryFlush(ctx context.Context) (did bool, result Result, err error) {
	if !s.flushMu.TryLock() {
		return false, Result{}, nil
	}
	s.flushMu.Unlock()
	result, err = s.FlushResult(ctx)
	return true, result, err
}

type run struct {
	off  int64
	data []byte
}

func runsToEntries(runs []run) []entry {
	out := make([]entry, 0, len(runs))
	for _, r := range runs {
		out = append(out, entry{off: r.off, data: r.data})
	}
	return out
}

// coalesce merges overlapping/adjacent ranges into contiguous runs.
// entries is already in submission order (stage appends hold s.mu for
// the whole append), and placeOverlap must walk it in that order so a
// later write's data lands on top of an earlier one regardless of which
// one starts at the lower offset. The result is sorted by offset only
// afterwards, for a predictable issue order; that sort never changes
// which write wins, since overlaps are already resolved by then.
func coalesce(entries []entry) []run {
	var runs []run
	for _, e := range entries {
		placeOverlap(&runs, e)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].off < runs[j].off
	})
	return runs
}

// placeOverlap writes e's data into runs, merging it with every run it
// overlaps or touches so later writes (called later) overwrite earlier
// data at the same offsets.
func placeOverlap(runs *[]run, e entry) {
	start := e.off
	end := e.off + int64(len(e.data))

	merged := false
	for i := range *runs {
		r := &(*runs)[i]
		rStart := r.off
		rEnd := r.off + int64(len(r.data))
		if start > rEnd || end < rStart {
			continue
		}
		// Overlaps or touches this run: rebuild it with e's data winning.
		newStart := min64(rStart, start)
		newEnd := max64(rEnd, end)
		buf := make([]byte, newEnd-newStart)
		copyAt(buf, newStart, rStart, r.data)
		copyAt(buf, newStart, start, e.data) // new data wins on overlap
		*runs = append((*runs)[:i], (*runs)[i+1:]...)
		// The rebuilt run may now reach other runs; place it again so it
		// absorbs them, its own bytes winning where they overlap.
		placeOverlap(runs, entry{off: newStart, data: buf})
		return
	}
	if !merged {
		buf := make([]byte, len(e.data))
		copy(buf, e.data)
		*runs = append(*runs, run{off: start, data: buf})
	}
}

func copyAt(dst []byte, dstBase, srcOff int64, src []byte) {
	copy(dst[srcOff-dstBase:], src)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
