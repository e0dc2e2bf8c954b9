package handle

import (
	"fmt"
	"sync"
)

// Kind tags which variant a Handle holds. Per spec.md §9 this replaces a
// polymorphic File/Dir capability with a plain tagged union dispatched by
// a type switch at each operation boundary — no virtual table needed
// since only two shapes ever exist.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Handle is one entry in the process-wide handle table: exactly one of
// File or Dir is set, selected by Kind.
type Handle struct {
	Kind Kind
	File *FileHandle
	Dir  *DirHandle
}

// Table is the fh-id-keyed table of open file and directory handles.
type Table struct {
	mu   sync.Mutex
	next uint64
	byID map[uint64]*Handle
}

// NewTable returns an empty handle table. fh ids start at 1; 0 is never
// issued so it can serve as a sentinel "no handle" value.
func NewTable() *Table {
	return &Table{byID: make(map[uint64]*Handle), next: 1}
}

// NewFile allocates an fh id and registers a FileHandle under it.
func (t *Table) NewFile(fh *FileHandle) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	fh.ID = id
	t.byID[id] = &Handle{Kind: KindFile, File: fh}
	return id
}

// NewDir allocates an fh id and registers a DirHandle under it.
func (t *Table) NewDir(dh *DirHandle) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	dh.ID = id
	t.byID[id] = &Handle{Kind: KindDir, Dir: dh}
	return id
}

// File returns the FileHandle registered under fh, or an error if fh is
// unknown or names a directory handle.
func (t *Table) File(fh uint64) (*FileHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[fh]
	if !ok {
		return nil, fmt.Errorf("no handle %d", fh)
	}
	if h.Kind != KindFile {
		return nil, fmt.Errorf("handle %d is not a file handle", fh)
	}
	return h.File, nil
}

// Dir returns the DirHandle registered under fh, or an error if fh is
// unknown or names a file handle.
func (t *Table) Dir(fh uint64) (*DirHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[fh]
	if !ok {
		return nil, fmt.Errorf("no handle %d", fh)
	}
	if h.Kind != KindDir {
		return nil, fmt.Errorf("handle %d is not a directory handle", fh)
	}
	return h.Dir, nil
}

// Release removes fh from the table, returning the handle it held so the
// caller can finish tearing it down (flush a CacheStore, drop a
// snapshot).
func (t *Table) Release(fh uint64) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[fh]
	if ok {
		delete(t.byID, fh)
	}
	return h, ok
}

// Len reports the number of open handles, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// FileHandles returns a snapshot of every currently open FileHandle, for
// the background writer's flush sweep.
func (t *Table) FileHandles() []*FileHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*FileHandle, 0, len(t.byID))
	for _, h := range t.byID {
		if h.Kind == KindFile {
			out = append(out, h.File)
		}
	}
	return out
}
