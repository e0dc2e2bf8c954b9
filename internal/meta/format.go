package meta

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	// RootIno is the fixed, reserved root inode number (spec.md §3).
	RootIno = 1

	// DefaultTotalInodes and DefaultGroupSize size a freshly formatted
	// filesystem's inode space. 1Mi inodes in 256 groups of 4096 bits each
	// keeps per-group bitmaps small (512 bytes) while giving the allocator
	// plenty of groups to distribute allocations across.
	DefaultTotalInodes = 1 << 20
	DefaultGroupSize   = 4096
)

// Format implements mkfs's contract (spec.md §6): wipe and recreate both
// the metadata store at metaPath and the data-file root at storePath, then
// write a fresh SuperBlock (version = FormatVersion), an empty imap, and
// the root inode (Dir, mode 0755, links 2).
func Format(metaPath, storePath string) error {
	if err := os.RemoveAll(metaPath); err != nil {
		return fmt.Errorf("mkfs: remove existing meta store: %w", err)
	}
	if err := os.RemoveAll(storePath); err != nil {
		return fmt.Errorf("mkfs: remove existing data root: %w", err)
	}
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return fmt.Errorf("mkfs: create data root: %w", err)
	}

	m, err := Open(metaPath, zerolog.Nop())
	if err != nil {
		return err
	}
	defer m.Close()

	groupCount := uint64(DefaultTotalInodes / DefaultGroupSize)
	sb := &SuperBlock{
		RootIno:     RootIno,
		DataRoot:    storePath,
		Version:     FormatVersion,
		TotalInodes: DefaultTotalInodes,
		GroupSize:   DefaultGroupSize,
		GroupCount:  groupCount,
	}
	if err := m.PutSuperBlock(sb); err != nil {
		return err
	}

	// Seed an empty imap: the group containing the root inode is not free
	// (it holds one reserved slot), every other group is entirely free.
	sum := newBitset(groupCount)
	for g := uint64(0); g < groupCount; g++ {
		sum.set(g, true)
	}
	rootGroup := newBitset(DefaultGroupSize)
	rootGroup.set(RootIno%DefaultGroupSize, true)
	m.put([]byte(imapSumKey), []byte(sum))
	m.put(imapGroupKey(RootIno/DefaultGroupSize), []byte(rootGroup))

	now := time.Now()
	root := &Inode{
		Ino:    RootIno,
		Parent: 0,
		Kind:   KindDir,
		Mode:   0o755,
		Uid:    0,
		Gid:    0,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Length: 0,
		Links:  2,
	}
	if err := m.PutInode(root); err != nil {
		return err
	}

	return m.Sync()
}
