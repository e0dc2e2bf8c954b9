package background

import (
	"context"
	"testing"
	"time"

	"github.com/abbycin/junkfs/internal/cachestore"
	"github.com/abbycin/junkfs/internal/filestore"
	"github.com/abbycin/junkfs/internal/handle"
	"github.com/abbycin/junkfs/internal/mempool"
	"github.com/abbycin/junkfs/internal/meta"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, grow Grow) (*Writer, *handle.Table, *handle.InodeTable, *handle.Orphans, *meta.Meta, []uint64) {
	m := newTestMeta(t)
	handles := handle.NewTable()
	states := handle.NewInodeTable()
	orphans := handle.NewOrphans()

	var finalized []uint64
	w := New(handles, states, m, orphans, func(ino uint64) error {
		finalized = append(finalized, ino)
		return nil
	}, grow, zerolog.Nop())
	w.tick = time.Millisecond
	w.timeout = 0

	return w, handles, states, orphans, m, finalized
}

func newTestMeta(t *testing.T) *meta.Meta {
	dir := t.TempDir()
	m, err := meta.Open(dir+"/meta.db", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestSweepFlushesTimedOutCacheStore(t *testing.T) {
	var grown []cachestore.Result
	w, handles, _, _, _, _ := newTestWriter(t, func(ino uint64, result cachestore.Result) error {
		grown = append(grown, result)
		return nil
	})

	pool := mempool.New(1<<20, 4096)
	fs := filestore.New(t.TempDir())
	defer fs.Close()

	store := cachestore.New(1, pool, fs)
	_, err := store.Write(context.Background(), 0, []byte("hi"))
	require.NoError(t, err)

	handles.NewFile(&handle.FileHandle{Ino: 1, Cache: store})

	w.sweep(false)
	require.False(t, store.Dirty())
	require.Len(t, grown, 1, "a timeout-triggered flush that grows the file must invoke Grow")
	require.EqualValues(t, 2, grown[0].Length)
}

func TestSweepFinalizesOrphanWithNoOpenHandles(t *testing.T) {
	w, _, states, orphans, _, _ := newTestWriter(t, nil)

	states.GetOrCreate(5, meta.Inode{Ino: 5})
	orphans.Add(5)

	w.sweep(false)

	require.False(t, orphans.Contains(5))
}

func TestSweepSkipsOrphanWithOpenHandle(t *testing.T) {
	w, _, states, orphans, _, _ := newTestWriter(t, nil)

	s := states.GetOrCreate(5, meta.Inode{Ino: 5})
	s.Open()
	orphans.Add(5)

	w.sweep(false)

	require.True(t, orphans.Contains(5), "orphan with an open handle must not be finalized yet")
}

func TestStopDrainsBeforeReturning(t *testing.T) {
	w, handles, _, _, _, _ := newTestWriter(t, nil)
	w.tick = time.Hour // disable the ticker so only Stop's drain runs

	pool := mempool.New(1<<20, 4096)
	fs := filestore.New(t.TempDir())
	defer fs.Close()

	store := cachestore.New(1, pool, fs)
	_, err := store.Write(context.Background(), 0, []byte("hi"))
	require.NoError(t, err)
	handles.NewFile(&handle.FileHandle{Ino: 1, Cache: store})

	w.Start()
	w.Stop()

	require.False(t, store.Dirty())
}
