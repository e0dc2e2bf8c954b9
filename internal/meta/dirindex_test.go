package meta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirCacheBuildsFromStoreAndPending(t *testing.T) {
	m := newTestMeta(t)
	m.PutDentry(1, "a", 10)
	require.NoError(t, m.CommitPending())
	m.PutDentry(1, "b", 11)

	dc := NewDirCache(m)
	ino, ok, err := dc.Lookup(1, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 10, ino)

	ino, ok, err = dc.Lookup(1, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 11, ino)
}

func TestDirCacheNegativeLookupThenInsert(t *testing.T) {
	m := newTestMeta(t)
	dc := NewDirCache(m)

	_, ok, err := dc.Lookup(1, "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, dc.negCacheFor(1).Hit("missing"))

	require.NoError(t, dc.Insert(1, "missing", 99))
	require.False(t, dc.negCacheFor(1).Hit("missing"))

	ino, ok, err := dc.Lookup(1, "missing")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 99, ino)
}

func TestDirCacheRemoveAndLen(t *testing.T) {
	m := newTestMeta(t)
	dc := NewDirCache(m)

	require.NoError(t, dc.Insert(1, "x", 2))
	require.NoError(t, dc.Insert(1, "y", 3))

	n, err := dc.Len(1)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, dc.Remove(1, "x"))
	n, err = dc.Len(1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDirCacheSnapshotIsStable(t *testing.T) {
	m := newTestMeta(t)
	dc := NewDirCache(m)
	require.NoError(t, dc.Insert(1, "x", 2))

	snap, err := dc.Snapshot(1)
	require.NoError(t, err)

	require.NoError(t, dc.Insert(1, "y", 3))
	require.Len(t, snap, 1, "snapshot must not observe mutations made after it was taken")
}
