// Package background implements the fixed-tick background writer
// described in spec.md §5: it flushes timed-out per-handle caches,
// drains the metadata pending buffer, and finalizes orphaned inodes
// whose last handle has since released.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/abbycin/junkfs/internal/cachestore"
	"github.com/abbycin/junkfs/internal/handle"
	"github.com/abbycin/junkfs/internal/meta"
	"github.com/rs/zerolog"
)

// DefaultTick is the fixed background-writer interval (spec.md §5).
const DefaultTick = 100 * time.Millisecond

// Finalizer runs finalize_unlink for an orphaned inode: free its inode
// bit, delete its metadata record, remove its host data file. It is
// supplied by the fsadapter, which is the only layer that holds
// references to every store the finalize step touches.
type Finalizer func(ino uint64) error

// Grow applies a CacheStore flush's Result to ino's inode metadata
// (length/mtime), the same update an explicit flush/fsync/release would
// make. Supplied by the fsadapter so a timeout-triggered background
// flush keeps metadata consistent with what was just written to disk.
type Grow func(ino uint64, result cachestore.Result) error

// Writer drives the fixed-tick background flush/commit/finalize loop.
type Writer struct {
	tick    time.Duration
	timeout time.Duration

	handles  *handle.Table
	states   *handle.InodeTable
	meta     *meta.Meta
	orphans  *handle.Orphans
	finalize Finalizer
	grow     Grow
	log      zerolog.Logger

	once   sync.Once
	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Writer; call Start to launch its goroutine.
func New(handles *handle.Table, states *handle.InodeTable, m *meta.Meta, orphans *handle.Orphans, finalize Finalizer, grow Grow, log zerolog.Logger) *Writer {
	return &Writer{
		tick:     DefaultTick,
		timeout:  cachestore.DefaultFlushTimeout,
		handles:  handles,
		states:   states,
		meta:     m,
		orphans:  orphans,
		finalize: finalize,
		grow:     grow,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the writer's goroutine.
func (w *Writer) Start() {
	go w.run()
}

// Stop signals shutdown, drains every CacheStore and the pending buffer,
// and waits for the goroutine to exit. spec.md §5: destroy waits for
// this drain.
func (w *Writer) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Writer) run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(false)
		case <-w.stopCh:
			w.sweep(true)
			return
		}
	}
}

// sweep runs one pass: flush due (or, on shutdown, all) CacheStores,
// commit pending metadata, and finalize any orphan whose last handle has
// released.
func (w *Writer) sweep(shutdown bool) {
	ctx := context.Background()
	for _, fh := range w.handles.FileHandles() {
		if fh.Cache == nil {
			continue
		}
		if !shutdown && fh.Cache.IdleSince() < w.timeout {
			continue
		}
		if !fh.Cache.Dirty() {
			continue
		}
		did, result, err := fh.Cache.TryFlush(ctx)
		if err != nil {
			w.log.Error().Err(err).Uint64("ino", fh.Ino).Msg("background flush failed")
			continue
		}
		if did && result.Grew && w.grow != nil {
			if err := w.grow(fh.Ino, result); err != nil {
				w.log.Error().Err(err).Uint64("ino", fh.Ino).Msg("background grow failed")
			}
		}
	}

	if err := w.meta.CommitPending(); err != nil {
		w.log.Error().Err(err).Msg("background commit_pending failed")
	}

	for _, ino := range w.orphans.Snapshot() {
		if state, ok := w.states.Get(ino); ok && state.OpenCount() > 0 {
			continue
		}
		if err := w.finalize(ino); err != nil {
			w.log.Error().Err(err).Uint64("ino", ino).Msg("finalize_unlink failed")
			continue
		}
		w.orphans.Remove(ino)
	}
}
