package meta

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFormatWritesSuperBlockAndRoot(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.db")
	storePath := filepath.Join(dir, "store")

	require.NoError(t, Format(metaPath, storePath))

	m, err := Open(metaPath, zerolog.Nop())
	require.NoError(t, err)
	defer m.Close()

	sb, err := m.GetSuperBlock()
	require.NoError(t, err)
	require.EqualValues(t, FormatVersion, sb.Version)
	require.EqualValues(t, RootIno, sb.RootIno)
	require.Equal(t, storePath, sb.DataRoot)

	root, err := m.GetInode(RootIno)
	require.NoError(t, err)
	require.True(t, root.IsDir())
	require.EqualValues(t, 0o755, root.Mode)
	require.EqualValues(t, 2, root.Links)
}

func TestFormatIsIdempotentWipe(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.db")
	storePath := filepath.Join(dir, "store")

	require.NoError(t, Format(metaPath, storePath))

	m, err := Open(metaPath, zerolog.Nop())
	require.NoError(t, err)
	m.PutDentry(RootIno, "leftover.txt", 99)
	require.NoError(t, m.CommitPending())
	require.NoError(t, m.Close())

	require.NoError(t, Format(metaPath, storePath))

	m2, err := Open(metaPath, zerolog.Nop())
	require.NoError(t, err)
	defer m2.Close()

	_, ok, err := m2.GetDentry(RootIno, "leftover.txt")
	require.NoError(t, err)
	require.False(t, ok, "mkfs must wipe prior metadata")
}
