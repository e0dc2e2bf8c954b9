// Package filestore implements the host-file data path described in
// spec.md §4.3: positional reads and writes against one sparse file per
// inode, sharded into a two-level directory tree under the store root.
// It knows nothing about metadata — FileStore only ever sees ino numbers
// and byte ranges.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/abbycin/junkfs/internal/junkerr"
	fallocate "github.com/detailyang/go-fallocate"
	"golang.org/x/sys/unix"
)

// FileStore owns the pool of per-inode sparse data files rooted at Root.
type FileStore struct {
	Root string

	mu    sync.Mutex
	files map[uint64]*os.File
}

// New returns a FileStore rooted at root. The root directory must already
// exist (mkfs creates it).
func New(root string) *FileStore {
	return &FileStore{Root: root, files: make(map[uint64]*os.File)}
}

// shardPath returns <root>/<ino&0xFF>/<(ino>>8)&0xFF>/<ino>, per spec.md §3.
func (fs *FileStore) shardPath(ino uint64) (dir, full string) {
	lo := ino & 0xFF
	hi := (ino >> 8) & 0xFF
	dir = filepath.Join(fs.Root, strconv.FormatUint(lo, 10), strconv.FormatUint(hi, 10))
	full = filepath.Join(dir, strconv.FormatUint(ino, 10))
	return dir, full
}

// OpenOrCreate returns the open *os.File backing ino, opening an existing
// sparse file or creating a new one (and its shard directories) on demand.
// The handle is cached; subsequent calls for the same ino return it
// without touching the host filesystem again.
func (fs *FileStore) OpenOrCreate(ino uint64) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, ok := fs.files[ino]; ok {
		return f, nil
	}

	dir, full := fs.shardPath(ino)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create shard dir for inode %d: %v", junkerr.ErrIO, ino, err)
	}

	f, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: open data file for inode %d: %v", junkerr.ErrIO, ino, err)
	}

	fs.files[ino] = f
	return f, nil
}

// Pwrite writes buf at off in ino's data file.
func (fs *FileStore) Pwrite(ino uint64, off int64, buf []byte) (int, error) {
	f, err := fs.OpenOrCreate(ino)
	if err != nil {
		return 0, err
	}

	n, err := unix.Pwrite(int(f.Fd()), buf, off)
	if err != nil {
		return n, fmt.Errorf("%w: pwrite inode %d: %v", junkerr.ErrIO, ino, err)
	}

	fs.dropCache(f, off, int64(n))
	return n, nil
}

// Pwritev writes each iov at its corresponding offset, in order. Offsets
// need not be contiguous; each element is its own positional write.
func (fs *FileStore) Pwritev(ino uint64, offs []int64, iovs [][]byte) error {
	if len(offs) != len(iovs) {
		return fmt.Errorf("%w: pwritev: mismatched offsets/iovs", junkerr.ErrInvalid)
	}
	for i, buf := range iovs {
		if _, err := fs.Pwrite(ino, offs[i], buf); err != nil {
			return err
		}
	}
	return nil
}

// Pread reads up to len(buf) bytes at off from ino's data file. Reads past
// EOF, or into a sparse hole, return zero bytes for the uncovered region;
// a short read at EOF is reported via n < len(buf) with a nil error,
// matching spec.md §4.3/§4.4's hole semantics.
func (fs *FileStore) Pread(ino uint64, off int64, buf []byte) (int, error) {
	f, err := fs.OpenOrCreate(ino)
	if err != nil {
		return 0, err
	}

	n, err := unix.Pread(int(f.Fd()), buf, off)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: pread inode %d: %v", junkerr.ErrIO, ino, err)
	}

	// Zero-pad anything pread didn't fill (EOF reached mid-buffer).
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return n, nil
}

// Truncate sets ino's data file length to size, zero-extending or
// discarding the tail as needed.
func (fs *FileStore) Truncate(ino uint64, size int64) error {
	f, err := fs.OpenOrCreate(ino)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat inode %d: %v", junkerr.ErrIO, ino, err)
	}

	if size > info.Size() {
		// Extend with zeros. fallocate reserves the range without requiring
		// an explicit zero-fill write; reads of the new tail return zero
		// either way because the file is sparse.
		if err := fallocate.Fallocate(f, info.Size(), size-info.Size()); err != nil {
			// Not every host filesystem supports fallocate; fall back to a
			// plain truncate, which still zero-extends logically.
			if err := f.Truncate(size); err != nil {
				return fmt.Errorf("%w: truncate inode %d: %v", junkerr.ErrIO, ino, err)
			}
			return nil
		}
		return nil
	}

	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("%w: truncate inode %d: %v", junkerr.ErrIO, ino, err)
	}
	return nil
}

// Fsync flushes ino's data file to the host filesystem. datasync selects
// fdatasync-equivalent semantics (data only) versus a full fsync (data and
// metadata), per spec.md §4.3.
func (fs *FileStore) Fsync(ino uint64, datasync bool) error {
	f, err := fs.OpenOrCreate(ino)
	if err != nil {
		return err
	}

	var syncErr error
	if datasync {
		syncErr = unix.Fdatasync(int(f.Fd()))
	} else {
		syncErr = f.Sync()
	}
	if syncErr != nil {
		return fmt.Errorf("%w: fsync inode %d: %v", junkerr.ErrIO, ino, syncErr)
	}
	return nil
}

// Remove unlinks ino's data file. A missing file is not an error.
func (fs *FileStore) Remove(ino uint64) error {
	fs.mu.Lock()
	if f, ok := fs.files[ino]; ok {
		_ = f.Close()
		delete(fs.files, ino)
	}
	fs.mu.Unlock()

	_, full := fs.shardPath(ino)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove inode %d data file: %v", junkerr.ErrIO, ino, err)
	}
	return nil
}

// dropCache hints the kernel to evict the page-cache range just written,
// per spec.md §4.3's POSIX_FADV_DONTNEED guidance — FUSE otherwise double
// caches pages the kernel already holds on behalf of the mounted file.
func (fs *FileStore) dropCache(f *os.File, off, n int64) {
	if n <= 0 {
		return
	}
	_ = unix.Fadvise(int(f.Fd()), off, n, unix.FADV_DONTNEED)
}

// Close closes every cached file handle. Intended for shutdown only.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var firstErr error
	for ino, f := range fs.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close inode %d data file: %w", ino, err)
		}
	}
	fs.files = make(map[uint64]*os.File)
	return firstErr
}
