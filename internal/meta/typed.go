package meta

import (
	"fmt"

	"github.com/abbycin/junkfs/internal/junkerr"
)

// GetSuperBlock returns the filesystem's superblock.
func (m *Meta) GetSuperBlock() (*SuperBlock, error) {
	v, found, err := m.get([]byte(superBlockKey))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: superblock", junkerr.ErrNotFound)
	}
	return decodeSuperBlock(v)
}

// PutSuperBlock buffers a write of sb.
func (m *Meta) PutSuperBlock(sb *SuperBlock) error {
	v, err := encodeSuperBlock(sb)
	if err != nil {
		return fmt.Errorf("%w: encode superblock: %v", junkerr.ErrIO, err)
	}
	m.put([]byte(superBlockKey), v)
	return nil
}

// GetInode returns the inode record for ino.
func (m *Meta) GetInode(ino uint64) (*Inode, error) {
	v, found, err := m.get(inodeKey(ino))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: inode %d", junkerr.ErrNotFound, ino)
	}
	return decodeInode(v)
}

// PutInode buffers a write of in, keyed by in.Ino.
func (m *Meta) PutInode(in *Inode) error {
	v, err := encodeInode(in)
	if err != nil {
		return fmt.Errorf("%w: encode inode %d: %v", junkerr.ErrIO, in.Ino, err)
	}
	m.put(inodeKey(in.Ino), v)
	return nil
}

// DeleteInode buffers a deletion of ino's record.
func (m *Meta) DeleteInode(ino uint64) {
	m.delete(inodeKey(ino))
}

// GetDentry resolves (parent, name) to a child ino, if any.
func (m *Meta) GetDentry(parent uint64, name string) (ino uint64, found bool, err error) {
	v, found, err := m.get(dentryKey(parent, name))
	if err != nil || !found {
		return 0, found, err
	}
	ino = decodeDentryValue(v)
	return ino, true, nil
}

// PutDentry buffers a write of the (parent, name) -> ino mapping.
func (m *Meta) PutDentry(parent uint64, name string, ino uint64) {
	m.put(dentryKey(parent, name), encodeDentryValue(ino))
}

// DeleteDentry buffers a deletion of the (parent, name) mapping.
func (m *Meta) DeleteDentry(parent uint64, name string) {
	m.delete(dentryKey(parent, name))
}

// ScanDir returns every (name -> ino) mapping currently visible under
// parent, merging the persisted store with the pending batch. Used by
// internal/meta's directory index to build its cache.
func (m *Meta) ScanDir(parent uint64) (map[string]uint64, error) {
	prefix := dentryPrefix(parent)
	raw, err := m.scanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(raw))
	for k, v := range raw {
		name := parseDentryKey([]byte(k), prefix)
		out[name] = decodeDentryValue(v)
	}
	return out, nil
}

func encodeDentryValue(ino uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(ino >> (8 * i))
	}
	return b
}

func decodeDentryValue(b []byte) uint64 {
	var ino uint64
	for i := 0; i < 8 && i < len(b); i++ {
		ino |= uint64(b[i]) << (8 * i)
	}
	return ino
}
