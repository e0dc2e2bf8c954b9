package meta

import (
	"testing"

	"github.com/abbycin/junkfs/internal/junkerr"
	"github.com/stretchr/testify/require"
)

func smallSB() *SuperBlock {
	return &SuperBlock{
		RootIno:     RootIno,
		Version:     FormatVersion,
		TotalInodes: 16,
		GroupSize:   4,
		GroupCount:  4,
	}
}

func TestAllocatorSkipsRoot(t *testing.T) {
	m := newTestMeta(t)
	a := NewAllocator(m, smallSB(), true)

	seen := make(map[uint64]bool)
	for i := 0; i < 10; i++ {
		ino, err := a.Alloc()
		require.NoError(t, err)
		require.NotEqual(t, uint64(RootIno), ino)
		require.False(t, seen[ino], "allocator returned duplicate ino %d", ino)
		seen[ino] = true
	}
}

func TestAllocatorExhaustionAndFree(t *testing.T) {
	m := newTestMeta(t)
	sb := smallSB()
	a := NewAllocator(m, sb, true)

	var allocated []uint64
	for {
		ino, err := a.Alloc()
		if err != nil {
			require.ErrorIs(t, err, junkerr.ErrNoSpace)
			break
		}
		allocated = append(allocated, ino)
		require.Less(t, len(allocated), int(sb.TotalInodes)+1, "allocator never exhausted")
	}
	require.NotEmpty(t, allocated)

	// Free one and confirm the bitmap reports space again.
	require.NoError(t, a.Free(allocated[0]))
	ino, err := a.Alloc()
	require.NoError(t, err)
	require.Equal(t, allocated[0], ino)
}

func TestAllocatorSummaryInvariant(t *testing.T) {
	m := newTestMeta(t)
	sb := smallSB()
	a := NewAllocator(m, sb, true)

	for i := 0; i < 3; i++ {
		_, err := a.Alloc()
		require.NoError(t, err)
	}

	sum, err := a.loadSummary()
	require.NoError(t, err)
	for g := uint64(0); g < sb.GroupCount; g++ {
		group, err := a.loadGroup(g)
		require.NoError(t, err)
		require.Equal(t, group.anyClear(sb.GroupSize), sum.get(g),
			"imap_sum bit for group %d must be set iff the group has a free inode", g)
	}
}
