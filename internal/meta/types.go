// Package meta implements the metadata engine described in spec.md §4.1:
// typed operations over a key-value store for the superblock, inodes,
// dentries, and the inode allocation bitmap, plus the pending-write batch
// that those operations are buffered into before a single atomic commit.
package meta

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Kind is the type of filesystem object an Inode represents.
type Kind uint8

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// FormatVersion is the current on-disk SuperBlock format, per spec.md §3.
const FormatVersion = 3

// SuperBlock is the single record holding global filesystem parameters. It
// is immutable after mkfs except across a version upgrade.
type SuperBlock struct {
	RootIno     uint64
	DataRoot    string
	Version     uint32
	TotalInodes uint64
	GroupSize   uint64
	GroupCount  uint64
}

// Inode is the persisted record for one filesystem object.
//
// Invariant: Links >= 0 (unsigned, so this holds by construction). When
// Links == 0 the inode is unreachable by any dentry and must either be in
// the orphan set (still open) or be fully deleted — internal/handle is
// responsible for that half of the invariant, not this package.
type Inode struct {
	Ino    uint64
	Parent uint64 // 0 for root, or for any multiply-linked inode
	Kind   Kind
	Mode   uint16
	Uid    uint32
	Gid    uint32
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Length uint64
	Links  uint32

	// Target holds the symlink destination inline, per DESIGN.md's Open
	// Question decision. Unused for File/Dir kinds.
	Target []byte
}

// IsDir reports whether this inode is a directory.
func (i *Inode) IsDir() bool { return i.Kind == KindDir }

// IsSymlink reports whether this inode is a symlink.
func (i *Inode) IsSymlink() bool { return i.Kind == KindSymlink }

// Clone returns a deep-enough copy of i suitable for mutating without
// aliasing a cached instance.
func (i *Inode) Clone() *Inode {
	c := *i
	if i.Target != nil {
		c.Target = append([]byte(nil), i.Target...)
	}
	return &c
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func encodeInode(in *Inode) ([]byte, error) { return encodeGob(in) }

func decodeInode(data []byte) (*Inode, error) {
	var in Inode
	if err := decodeGob(data, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func encodeSuperBlock(sb *SuperBlock) ([]byte, error) { return encodeGob(sb) }

func decodeSuperBlock(data []byte) (*SuperBlock, error) {
	var sb SuperBlock
	if err := decodeGob(data, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}
