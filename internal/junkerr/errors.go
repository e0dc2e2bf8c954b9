// Package junkerr maps the engine's internal failure modes onto the FUSE
// errno taxonomy described in spec.md §7. Every error that crosses a
// component boundary inside the engine should eventually resolve to one of
// these sentinels (or wrap one with %w) so that internal/fsadapter can map
// it to a syscall.Errno without needing to know which component raised it.
package junkerr

import (
	"errors"
	"syscall"
)

var (
	// ErrNotFound covers a missing inode or dentry.
	ErrNotFound = errors.New("junkfs: not found")
	// ErrExists covers a name collision in a target directory.
	ErrExists = errors.New("junkfs: already exists")
	// ErrNotDir means an operation expected a directory inode and found
	// something else.
	ErrNotDir = errors.New("junkfs: not a directory")
	// ErrIsDir means an operation expected a non-directory inode and found
	// a directory.
	ErrIsDir = errors.New("junkfs: is a directory")
	// ErrNotEmpty covers rmdir against a non-empty directory.
	ErrNotEmpty = errors.New("junkfs: directory not empty")
	// ErrInvalid covers cross-type rename, rename loops, and bad flags.
	ErrInvalid = errors.New("junkfs: invalid argument")
	// ErrNoSpace covers imap exhaustion.
	ErrNoSpace = errors.New("junkfs: no space left")
	// ErrIO covers KV read/commit failure and host-file I/O failure.
	ErrIO = errors.New("junkfs: i/o error")
	// ErrNotSupported covers unimplemented FUSE operations.
	ErrNotSupported = errors.New("junkfs: not supported")
)

// Errno maps err onto the FUSE-level errno it should surface as. A nil err
// maps to nil. An error that doesn't wrap one of the sentinels above is
// treated as an I/O failure, since that is the safest default: it tells the
// kernel (and the caller) that something went wrong without claiming a more
// specific, possibly misleading, condition.
func Errno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ErrNotSupported):
		return syscall.ENOSYS
	case errors.Is(err, ErrIO):
		return syscall.EIO
	default:
		return syscall.EIO
	}
}
