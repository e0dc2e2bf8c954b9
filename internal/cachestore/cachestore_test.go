package cachestore

import (
	"bytes"
	"context"
	"testing"

	"github.com/abbycin/junkfs/internal/filestore"
	"github.com/abbycin/junkfs/internal/mempool"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *filestore.FileStore) {
	pool := mempool.New(1<<20, 4096)
	fs := filestore.New(t.TempDir())
	t.Cleanup(func() { fs.Close() })
	return New(1, pool, fs), fs
}

func TestWriteSmallStaysInCacheUntilFlush(t *testing.T) {
	s, fs := newTestStore(t)
	ctx := context.Background()

	n, err := s.Write(ctx, 0, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.True(t, s.Dirty())

	buf := make([]byte, 5)
	_, err = fs.Pread(1, 0, buf)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 5), buf, "unflushed write must not be visible to FileStore yet")

	require.NoError(t, s.Flush(ctx))
	require.False(t, s.Dirty())

	_, err = fs.Pread(1, 0, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf)
}

func TestLargeAlignedWriteBypassesCache(t *testing.T) {
	s, fs := newTestStore(t)
	ctx := context.Background()

	big := bytes.Repeat([]byte{0x7A}, DefaultLargeWriteThreshold)
	n, err := s.Write(ctx, 0, big)
	require.NoError(t, err)
	require.Equal(t, len(big), n)
	require.False(t, s.Dirty(), "large aligned write must bypass the cache entirely")

	buf := make([]byte, len(big))
	_, err = fs.Pread(1, 0, buf)
	require.NoError(t, err)
	require.True(t, bytes.Equal(big, buf))
}

func TestFlushCoalescesOverlappingWritesLatestWins(t *testing.T) {
	s, fs := newTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, 0, []byte("aaaaaa"))
	require.NoError(t, err)
	_, err = s.Write(ctx, 2, []byte("XX"))
	require.NoError(t, err)

	require.NoError(t, s.Flush(ctx))

	buf := make([]byte, 6)
	_, err = fs.Pread(1, 0, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("aaXXaa"), buf)
}

func TestFlushCoalesceLatestSubmittedWinsEvenAtLowerOffset(t *testing.T) {
	s, fs := newTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, 50, []byte("OLD"))
	require.NoError(t, err)
	_, err = s.Write(ctx, 0, bytes.Repeat([]byte("N"), 60))
	require.NoError(t, err)

	require.NoError(t, s.Flush(ctx))

	buf := make([]byte, 3)
	_, err = fs.Pread(1, 50, buf)
	require.NoError(t, err)
	require.Equal(t, []byte("NNN"), buf, "the later-submitted write must win even though its offset is lower")
}

func TestFlushGrowsHighWaterMark(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, 10, []byte("abc"))
	require.NoError(t, err)

	result, err := s.FlushResult(ctx)
	require.NoError(t, err)
	require.True(t, result.Flushed)
	require.True(t, result.Grew)
	require.EqualValues(t, 13, result.Length)
}

func TestFlushOfCleanStoreIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	result, err := s.FlushResult(context.Background())
	require.NoError(t, err)
	require.False(t, result.Flushed)
}

func TestTryFlushSkipsOnContention(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Write(ctx, 0, []byte("x"))
	require.NoError(t, err)

	s.flushMu.Lock()
	did, _, err := s.TryFlush(ctx)
	require.NoError(t, err)
	require.False(t, did)
	s.flushMu.Unlock()

	did, _, err = s.TryFlush(ctx)
	require.NoError(t, err)
	require.True(t, did)
}
