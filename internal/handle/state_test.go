package handle

import (
	"testing"

	"github.com/abbycin/junkfs/internal/meta"
	"github.com/stretchr/testify/require"
)

func TestInodeStateLookupAndForget(t *testing.T) {
	s := newState(5, meta.Inode{Ino: 5})
	s.AddLookup(2)
	require.False(t, s.Forget(1))
	require.True(t, s.Forget(1))
}

func TestInodeStateForgetNotDeadWithOpenHandle(t *testing.T) {
	s := newState(5, meta.Inode{Ino: 5})
	s.AddLookup(1)
	s.Open()
	require.False(t, s.Forget(1), "open handle must keep the state alive")
}

func TestInodeStateReleaseTracksOpenCount(t *testing.T) {
	s := newState(5, meta.Inode{Ino: 5})
	s.AddLookup(1)
	s.Open()
	s.Open()

	count, pending, dead := s.Release()
	require.Equal(t, 1, count)
	require.False(t, pending)
	require.False(t, dead)

	count, _, dead = s.Release()
	require.Equal(t, 0, count)
	require.False(t, dead, "nlookup still nonzero")
}

func TestInodeStatePendingUnlink(t *testing.T) {
	s := newState(5, meta.Inode{Ino: 5})
	require.False(t, s.PendingUnlink())
	s.SetPendingUnlink()
	require.True(t, s.PendingUnlink())
}

func TestInodeTableGetOrCreateReusesState(t *testing.T) {
	tbl := NewInodeTable()
	a := tbl.GetOrCreate(1, meta.Inode{Ino: 1})
	b := tbl.GetOrCreate(1, meta.Inode{Ino: 1, Mode: 0o644})
	require.Same(t, a, b)
	require.Equal(t, 1, tbl.Len())
}

func TestInodeTableDrop(t *testing.T) {
	tbl := NewInodeTable()
	tbl.GetOrCreate(1, meta.Inode{Ino: 1})
	tbl.Drop(1)
	_, ok := tbl.Get(1)
	require.False(t, ok)
}
