// Package fsadapter wires the metadata, allocation, cache, and handle
// layers together behind the jacobsa/fuse low-level FileSystem interface,
// implementing the operation set named in spec.md §4.6/§6: init, destroy,
// lookup, forget, getattr, setattr, mknod, mkdir, unlink, rmdir, symlink,
// readlink, rename, link, open, read, write, flush, release, opendir,
// readdir, releasedir, fsync, create. fsyncdir has no method of its own
// and, like everything else not listed, reports ENOSYS.
package fsadapter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/abbycin/junkfs/internal/background"
	"github.com/abbycin/junkfs/internal/cachestore"
	"github.com/abbycin/junkfs/internal/config"
	"github.com/abbycin/junkfs/internal/filestore"
	"github.com/abbycin/junkfs/internal/handle"
	"github.com/abbycin/junkfs/internal/junkerr"
	"github.com/abbycin/junkfs/internal/mempool"
	"github.com/abbycin/junkfs/internal/meta"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rs/zerolog"
)

// FS implements fuseutil.FileSystem over the metadata/cache/handle stack.
type FS struct {
	fuseutil.NotImplementedFileSystem

	cfg config.Config
	log zerolog.Logger

	metadb *meta.Meta
	alloc  *meta.Allocator
	dirs   *meta.DirCache
	files  *filestore.FileStore
	pool   *mempool.Pool

	inodes  *handle.InodeTable
	handles *handle.Table
	orphans *handle.Orphans

	writer *background.Writer

	uid uint32
	gid uint32

	mu      sync.Mutex
	started bool
}

// New builds an FS ready to be wrapped in fuseutil.NewFileSystemServer.
// metaPath must already have been formatted by mkfs.
func New(m *meta.Meta, cfg config.Config, log zerolog.Logger, uid, gid uint32) (*FS, error) {
	sb, err := m.GetSuperBlock()
	if err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}

	fs := &FS{
		cfg:     cfg,
		log:     log,
		metadb:  m,
		alloc:   meta.NewAllocator(m, sb, cfg.EnableInoReuse),
		dirs:    meta.NewDirCache(m),
		files:   filestore.New(sb.DataRoot),
		pool:    mempool.New(mempool.DefaultPoolBytes, mempool.DefaultPageSize),
		inodes:  handle.NewInodeTable(),
		handles: handle.NewTable(),
		orphans: handle.NewOrphans(),
		uid:     uid,
		gid:     gid,
	}

	root, err := m.GetInode(sb.RootIno)
	if err != nil {
		return nil, fmt.Errorf("read root inode: %w", err)
	}
	fs.inodes.GetOrCreate(sb.RootIno, *root)

	fs.writer = background.New(fs.handles, fs.inodes, fs.metadb, fs.orphans, fs.finalizeUnlink, fs.growInode, log)
	return fs, nil
}

// Start launches the background writer. Call once, after mounting.
func (fs *FS) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.started {
		return
	}
	fs.started = true
	fs.writer.Start()
}

// Shutdown drains the background writer and closes the data-file pool.
// spec.md §5: destroy waits for this drain.
func (fs *FS) Shutdown() {
	fs.mu.Lock()
	started := fs.started
	fs.mu.Unlock()
	if started {
		fs.writer.Stop()
	}
	_ = fs.files.Close()
}

// Destroy implements fuseutil.FileSystem.
func (fs *FS) Destroy() { fs.Shutdown() }

// commitPending commits the metadata pending batch and, when
// StrictInvariant is enabled, re-verifies the bitmap/pending invariants
// of spec.md §8 against the result.
func (fs *FS) commitPending() error {
	if err := fs.metadb.CommitPending(); err != nil {
		return err
	}
	if !fs.cfg.StrictInvariant {
		return nil
	}
	sb, err := fs.metadb.GetSuperBlock()
	if err != nil {
		return err
	}
	return fs.metadb.CheckInvariants(sb)
}

func errno(err error) error {
	if err == nil {
		return nil
	}
	return junkerr.Errno(err)
}

func (fs *FS) state(ino uint64) (*handle.State, error) {
	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return nil, err
	}
	return fs.inodes.GetOrCreate(ino, *in), nil
}

func attrsFor(in *meta.Inode) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  in.Length,
		Nlink: in.Links,
		Mode:  modeFor(in),
		Atime: in.Atime,
		Mtime: in.Mtime,
		Ctime: in.Ctime,
		Uid:   in.Uid,
		Gid:   in.Gid,
	}
}

func modeFor(in *meta.Inode) os.FileMode {
	m := os.FileMode(in.Mode) & os.ModePerm
	switch in.Kind {
	case meta.KindDir:
		m |= os.ModeDir
	case meta.KindSymlink:
		m |= os.ModeSymlink
	}
	return m
}

const entryTTL = 1 * time.Second

func childEntry(in *meta.Inode) fuseops.ChildInodeEntry {
	return fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(in.Ino),
		Attributes:           attrsFor(in),
		AttributesExpiration: time.Now().Add(entryTTL),
		EntryExpiration:      time.Now().Add(entryTTL),
	}
}

// LookUpInode implements fuseutil.FileSystem.
func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parent := uint64(op.Parent)

	ino, found, err := fs.dirs.Lookup(parent, op.Name)
	if err != nil {
		return errno(err)
	}
	if !found {
		return errno(fmt.Errorf("%w: %s", junkerr.ErrNotFound, op.Name))
	}

	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return errno(err)
	}
	state := fs.inodes.GetOrCreate(ino, *in)
	state.AddLookup(1)

	op.Entry = childEntry(in)
	return nil
}

// GetInodeAttributes implements fuseutil.FileSystem.
func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	in, err := fs.metadb.GetInode(uint64(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrsFor(in)
	op.AttributesExpiration = time.Now().Add(entryTTL)
	return nil
}

// SetInodeAttributes implements fuseutil.FileSystem.
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	ino := uint64(op.Inode)
	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return errno(err)
	}

	if op.Size != nil && *op.Size != in.Length {
		if err := fs.files.Truncate(ino, int64(*op.Size)); err != nil {
			return errno(err)
		}
		in.Length = *op.Size
	}
	if op.Mode != nil {
		in.Mode = uint16(op.Mode.Perm())
	}
	if op.Atime != nil {
		in.Atime = *op.Atime
	}
	if op.Mtime != nil {
		in.Mtime = *op.Mtime
	}
	in.Ctime = time.Now()

	if err := fs.metadb.PutInode(in); err != nil {
		return errno(err)
	}
	if err := fs.commitPending(); err != nil {
		return errno(err)
	}
	if state, ok := fs.inodes.Get(ino); ok {
		state.SetInode(*in)
	}

	op.Attributes = attrsFor(in)
	op.AttributesExpiration = time.Now().Add(entryTTL)
	return nil
}

// ForgetInode implements fuseutil.FileSystem.
func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	ino := uint64(op.Inode)
	state, ok := fs.inodes.Get(ino)
	if !ok {
		return nil
	}
	if state.Forget(op.N) {
		fs.inodes.Drop(ino)
	}
	return nil
}

func (fs *FS) createInode(parent uint64, name string, mode os.FileMode, kind meta.Kind, target []byte) (*meta.Inode, error) {
	ino, err := fs.alloc.Alloc()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	in := &meta.Inode{
		Ino:    ino,
		Parent: parent,
		Kind:   kind,
		Mode:   uint16(mode.Perm()),
		Uid:    fs.uid,
		Gid:    fs.gid,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Links:  1,
		Target: target,
	}
	if kind == meta.KindSymlink {
		in.Length = uint64(len(target))
	}
	if kind == meta.KindDir {
		in.Links = 2
	}

	if _, found, err := fs.dirs.Lookup(parent, name); err != nil {
		return nil, err
	} else if found {
		return nil, fmt.Errorf("%w: %s", junkerr.ErrExists, name)
	}

	if err := fs.metadb.PutInode(in); err != nil {
		return nil, err
	}
	fs.metadb.PutDentry(parent, name, ino)

	if err := fs.commitPending(); err != nil {
		return nil, err
	}
	if err := fs.dirs.Insert(parent, name, ino); err != nil {
		return nil, err
	}

	fs.inodes.GetOrCreate(ino, *in)
	return in, nil
}

// MkDir implements fuseutil.FileSystem.
func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	in, err := fs.createInode(uint64(op.Parent), op.Name, op.Mode, meta.KindDir, nil)
	if err != nil {
		return errno(err)
	}
	op.Entry = childEntry(in)
	return nil
}

// MkNode implements fuseutil.FileSystem.
func (fs *FS) MkNode(ctx context.Context, op *fuseops.MkNodeOp) error {
	in, err := fs.createInode(uint64(op.Parent), op.Name, op.Mode, meta.KindFile, nil)
	if err != nil {
		return errno(err)
	}
	op.Entry = childEntry(in)
	return nil
}

// CreateFile implements fuseutil.FileSystem: mknod + open in one
// atomic pending batch, per spec.md §4.6.
func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	in, err := fs.createInode(uint64(op.Parent), op.Name, op.Mode, meta.KindFile, nil)
	if err != nil {
		return errno(err)
	}

	state, _ := fs.state(in.Ino)
	state.Open()
	fh := &handle.FileHandle{Ino: in.Ino, Cache: cachestore.New(in.Ino, fs.pool, fs.files)}
	op.Handle = fuseops.HandleID(fs.handles.NewFile(fh))

	op.Entry = childEntry(in)
	return nil
}

// CreateSymlink implements fuseutil.FileSystem.
func (fs *FS) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	in, err := fs.createInode(uint64(op.Parent), op.Name, os.ModePerm, meta.KindSymlink, []byte(op.Target))
	if err != nil {
		return errno(err)
	}
	op.Entry = childEntry(in)
	return nil
}

// ReadSymlink implements fuseutil.FileSystem.
func (fs *FS) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	in, err := fs.metadb.GetInode(uint64(op.Inode))
	if err != nil {
		return errno(err)
	}
	if !in.IsSymlink() {
		return errno(fmt.Errorf("%w: not a symlink", junkerr.ErrInvalid))
	}
	op.Target = string(in.Target)
	return nil
}

// CreateLink implements fuseutil.FileSystem.
func (fs *FS) CreateLink(ctx context.Context, op *fuseops.CreateLinkOp) error {
	srcIno := uint64(op.Target)
	in, err := fs.metadb.GetInode(srcIno)
	if err != nil {
		return errno(err)
	}
	if in.IsDir() {
		return errno(fmt.Errorf("%w: cannot hardlink a directory", junkerr.ErrInvalid))
	}

	if _, found, err := fs.dirs.Lookup(uint64(op.Parent), op.Name); err != nil {
		return errno(err)
	} else if found {
		return errno(fmt.Errorf("%w: %s", junkerr.ErrExists, op.Name))
	}

	in.Links++
	in.Parent = 0
	in.Ctime = time.Now()
	if err := fs.metadb.PutInode(in); err != nil {
		return errno(err)
	}
	fs.metadb.PutDentry(uint64(op.Parent), op.Name, srcIno)
	if err := fs.commitPending(); err != nil {
		return errno(err)
	}
	if err := fs.dirs.Insert(uint64(op.Parent), op.Name, srcIno); err != nil {
		return errno(err)
	}
	if state, ok := fs.inodes.Get(srcIno); ok {
		state.SetInode(*in)
	}

	op.Entry = childEntry(in)
	return nil
}

// Unlink implements fuseutil.FileSystem, per spec.md §4.5's deferred
// unlink rule.
func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return errno(fs.unlinkEntry(uint64(op.Parent), op.Name))
}

func (fs *FS) unlinkEntry(parent uint64, name string) error {
	ino, found, err := fs.dirs.Lookup(parent, name)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", junkerr.ErrNotFound, name)
	}

	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return err
	}
	if in.IsDir() {
		return fmt.Errorf("%w: %s is a directory", junkerr.ErrIsDir, name)
	}

	fs.metadb.DeleteDentry(parent, name)
	in.Links--
	if in.Links == 0 {
		state, hasState := fs.inodes.Get(ino)
		if hasState && state.OpenCount() > 0 {
			state.SetPendingUnlink()
			fs.orphans.Add(ino)
			if err := fs.metadb.PutInode(in); err != nil {
				return err
			}
		} else {
			fs.metadb.DeleteInode(ino)
			if err := fs.alloc.Free(ino); err != nil {
				return err
			}
		}
	} else {
		if err := fs.metadb.PutInode(in); err != nil {
			return err
		}
	}

	if err := fs.commitPending(); err != nil {
		return err
	}
	if err := fs.dirs.Remove(parent, name); err != nil {
		return err
	}
	if state, ok := fs.inodes.Get(ino); ok {
		state.SetInode(*in)
	}

	if in.Links == 0 && !fs.orphans.Contains(ino) {
		if err := fs.files.Remove(ino); err != nil {
			return err
		}
	}
	return nil
}

// RmDir implements fuseutil.FileSystem.
func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parent := uint64(op.Parent)
	ino, found, err := fs.dirs.Lookup(parent, op.Name)
	if err != nil {
		return errno(err)
	}
	if !found {
		return errno(fmt.Errorf("%w: %s", junkerr.ErrNotFound, op.Name))
	}

	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return errno(err)
	}
	if !in.IsDir() {
		return errno(fmt.Errorf("%w: %s is not a directory", junkerr.ErrNotDir, op.Name))
	}

	n, err := fs.dirs.Len(ino)
	if err != nil {
		return errno(err)
	}
	if n > 0 {
		return errno(fmt.Errorf("%w: %s", junkerr.ErrNotEmpty, op.Name))
	}

	fs.metadb.DeleteDentry(parent, op.Name)
	fs.metadb.DeleteInode(ino)
	if err := fs.alloc.Free(ino); err != nil {
		return errno(err)
	}
	if err := fs.commitPending(); err != nil {
		return errno(err)
	}
	if err := fs.dirs.Remove(parent, op.Name); err != nil {
		return errno(err)
	}
	fs.dirs.Invalidate(ino)
	fs.inodes.Drop(ino)
	return nil
}

// Rename implements fuseutil.FileSystem. Atomicity comes from batching
// every key mutation into a single commit_pending, per spec.md §4.5.
func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldParent, newParent := uint64(op.OldParent), uint64(op.NewParent)

	ino, found, err := fs.dirs.Lookup(oldParent, op.OldName)
	if err != nil {
		return errno(err)
	}
	if !found {
		return errno(fmt.Errorf("%w: %s", junkerr.ErrNotFound, op.OldName))
	}

	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return errno(err)
	}

	if in.IsDir() {
		if err := fs.rejectRenameIntoDescendant(ino, newParent); err != nil {
			return errno(err)
		}
	}

	displacedIno, displaced, err := fs.dirs.Lookup(newParent, op.NewName)
	if err != nil {
		return errno(err)
	}
	if displaced {
		displacedInode, err := fs.metadb.GetInode(displacedIno)
		if err != nil {
			return errno(err)
		}
		if displacedInode.IsDir() != in.IsDir() {
			return errno(fmt.Errorf("%w: cross-type rename", junkerr.ErrInvalid))
		}
		if displacedInode.IsDir() {
			if n, err := fs.dirs.Len(displacedIno); err != nil {
				return errno(err)
			} else if n > 0 {
				return errno(fmt.Errorf("%w: %s", junkerr.ErrNotEmpty, op.NewName))
			}
			fs.metadb.DeleteInode(displacedIno)
			if err := fs.alloc.Free(displacedIno); err != nil {
				return errno(err)
			}
		} else {
			displacedInode.Links--
			if displacedInode.Links == 0 {
				state, hasState := fs.inodes.Get(displacedIno)
				if hasState && state.OpenCount() > 0 {
					state.SetPendingUnlink()
					fs.orphans.Add(displacedIno)
					if err := fs.metadb.PutInode(displacedInode); err != nil {
						return errno(err)
					}
				} else {
					fs.metadb.DeleteInode(displacedIno)
					if err := fs.alloc.Free(displacedIno); err != nil {
						return errno(err)
					}
				}
			} else if err := fs.metadb.PutInode(displacedInode); err != nil {
				return errno(err)
			}
		}
	}

	fs.metadb.DeleteDentry(oldParent, op.OldName)
	fs.metadb.PutDentry(newParent, op.NewName, ino)
	if in.IsDir() || in.Links == 1 {
		in.Parent = newParent
	}
	if err := fs.metadb.PutInode(in); err != nil {
		return errno(err)
	}

	if err := fs.commitPending(); err != nil {
		return errno(err)
	}

	if err := fs.dirs.Remove(oldParent, op.OldName); err != nil {
		return errno(err)
	}
	if err := fs.dirs.Insert(newParent, op.NewName, ino); err != nil {
		return errno(err)
	}
	if displaced {
		fs.dirs.Invalidate(displacedIno)
		if !fs.orphans.Contains(displacedIno) {
			_ = fs.files.Remove(displacedIno)
			fs.inodes.Drop(displacedIno)
		}
	}
	if state, ok := fs.inodes.Get(ino); ok {
		state.SetInode(*in)
	}
	return nil
}

// rejectRenameIntoDescendant walks newParent upward through its parent
// chain; if it reaches movedDirIno, the rename would create a cycle.
func (fs *FS) rejectRenameIntoDescendant(movedDirIno, newParent uint64) error {
	cur := newParent
	for {
		if cur == movedDirIno {
			return fmt.Errorf("%w: cannot move a directory into its own subtree", junkerr.ErrInvalid)
		}
		in, err := fs.metadb.GetInode(cur)
		if err != nil {
			return err
		}
		if in.Ino == in.Parent || in.Parent == 0 {
			return nil
		}
		cur = in.Parent
	}
}

// StatusErrno returns the syscall.Errno carried by err (as returned by the
// FS methods, which already map sentinels via errno), or EIO if err
// carries none.
func StatusErrno(err error) syscall.Errno {
	var en syscall.Errno
	if asErrno(err, &en) {
		return en
	}
	return syscall.EIO
}

func asErrno(err error, target *syscall.Errno) bool {
	for err != nil {
		if en, ok := err.(syscall.Errno); ok {
			*target = en
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
