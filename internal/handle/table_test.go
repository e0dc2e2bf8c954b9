package handle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleTableFileAndDirAreDistinctVariants(t *testing.T) {
	tbl := NewTable()

	fh := &FileHandle{Ino: 10}
	fid := tbl.NewFile(fh)

	dh := &DirHandle{Ino: 20}
	did := tbl.NewDir(dh)

	require.NotEqual(t, fid, did)

	_, err := tbl.Dir(fid)
	require.Error(t, err, "fid names a file handle, not a directory handle")

	_, err = tbl.File(did)
	require.Error(t, err, "did names a directory handle, not a file handle")

	got, err := tbl.File(fid)
	require.NoError(t, err)
	require.Same(t, fh, got)
}

func TestHandleTableReleaseRemovesEntry(t *testing.T) {
	tbl := NewTable()
	id := tbl.NewFile(&FileHandle{Ino: 1})

	h, ok := tbl.Release(id)
	require.True(t, ok)
	require.Equal(t, KindFile, h.Kind)

	_, err := tbl.File(id)
	require.Error(t, err)
}

func TestDirHandleSnapshotIsSortedAndStableByOffset(t *testing.T) {
	dh := NewDirHandle(1, 1, map[string]uint64{"b": 2, "a": 1, "c": 3})
	require.Equal(t, []DirEntry{{Name: "a", Ino: 1}, {Name: "b", Ino: 2}, {Name: "c", Ino: 3}}, dh.Entries)

	rest := dh.At(1)
	require.Equal(t, []DirEntry{{Name: "b", Ino: 2}, {Name: "c", Ino: 3}}, rest)

	require.Nil(t, dh.At(10))
}

func TestOrphansAddContainsRemove(t *testing.T) {
	o := NewOrphans()
	require.False(t, o.Contains(7))
	o.Add(7)
	require.True(t, o.Contains(7))
	require.Equal(t, []uint64{7}, o.Snapshot())
	o.Remove(7)
	require.False(t, o.Contains(7))
}
