package handle

import "sort"

// DirEntry is one name/ino pair in a directory snapshot.
type DirEntry struct {
	Name string
	Ino  uint64
}

// DirHandle is the snapshot of a directory's children captured at
// opendir, per spec.md §4.5. readdir
// indexes into Entries by logical offset; later mutations to the
// directory do not affect an in-flight iteration.
type DirHandle struct {
	ID      uint64
	Ino     uint64
	Entries []DirEntry
}

// NewDirHandle builds a snapshot from a name->ino map, producing a
// stable, deterministically ordered entry list so repeated readdir calls
// over the same handle are consistent even if the caller retries a
// short read.
func NewDirHandle(id, ino uint64, children map[string]uint64) *DirHandle {
	entries := make([]DirEntry, 0, len(children))
	for name, ino := range children {
		entries = append(entries, DirEntry{Name: name, Ino: ino})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return &DirHandle{ID: id, Ino: ino, Entries: entries}
}

// At returns the entries starting at logical offset off.
func (d *DirHandle) At(off int) []DirEntry {
	if off < 0 || off >= len(d.Entries) {
		return nil
	}
	return d.Entries[off:]
}
