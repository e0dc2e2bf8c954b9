package fsadapter

import (
	"context"
	"time"

	"github.com/abbycin/junkfs/internal/cachestore"
	"github.com/abbycin/junkfs/internal/handle"
	"github.com/jacobsa/fuse/fuseops"
)

// OpenFile implements fuseutil.FileSystem.
func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	ino := uint64(op.Inode)
	state, err := fs.state(ino)
	if err != nil {
		return errno(err)
	}
	state.Open()

	fh := &handle.FileHandle{Ino: ino, Cache: cachestore.New(ino, fs.pool, fs.files)}
	op.Handle = fuseops.HandleID(fs.handles.NewFile(fh))
	op.KeepPageCache = !fs.cfg.DisableWritebackCache
	return nil
}

// ReadFile implements fuseutil.FileSystem. Any live dirty cache on this
// handle is flushed first so the read observes it, per spec.md §4.4.
func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fh, err := fs.handles.File(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}
	if fh.Cache != nil && fh.Cache.Dirty() {
		if err := fh.Cache.Flush(ctx); err != nil {
			return errno(err)
		}
	}

	n, err := fs.files.Pread(fh.Ino, op.Offset, op.Dst)
	if err != nil {
		return errno(err)
	}
	op.BytesRead = n
	return nil
}

// WriteFile implements fuseutil.FileSystem.
func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	fh, err := fs.handles.File(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}

	if _, err := fh.Cache.Write(ctx, op.Offset, op.Data); err != nil {
		return errno(err)
	}

	if state, ok := fs.inodes.Get(fh.Ino); ok {
		state.MarkDirty()
	}
	return nil
}

// FlushFile implements fuseutil.FileSystem (the FUSE flush callback, not
// fsync — issued on close()).
func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	fh, err := fs.handles.File(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}
	return errno(fs.flushHandle(ctx, fh))
}

func (fs *FS) flushHandle(ctx context.Context, fh *handle.FileHandle) error {
	result, err := fh.Cache.FlushResult(ctx)
	if err != nil {
		return err
	}
	if !result.Grew {
		return nil
	}
	return fs.growInode(fh.Ino, result)
}

func (fs *FS) growInode(ino uint64, result cachestore.Result) error {
	in, err := fs.metadb.GetInode(ino)
	if err != nil {
		return err
	}
	if uint64(result.Length) <= in.Length {
		return nil
	}
	in.Length = uint64(result.Length)
	in.Mtime = time.Now()
	in.Ctime = in.Mtime
	if err := fs.metadb.PutInode(in); err != nil {
		return err
	}
	if err := fs.commitPending(); err != nil {
		return err
	}
	if state, ok := fs.inodes.Get(ino); ok {
		state.SetInode(*in)
	}
	return nil
}

// SyncFile implements fuseutil.FileSystem (fsync). Per DESIGN.md's Open
// Question decision, every fsync does both: drains pending metadata and
// durably flushes the metadata store, then durably flushes the data file.
func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	fh, err := fs.handles.File(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}
	if err := fs.flushHandle(ctx, fh); err != nil {
		return errno(err)
	}
	if err := fs.commitPending(); err != nil {
		return errno(err)
	}
	if err := fs.metadb.Sync(); err != nil {
		return errno(err)
	}
	if err := fs.files.Fsync(fh.Ino, false); err != nil {
		return errno(err)
	}
	if fs.cfg.VerifyFlush {
		if _, err := fs.metadb.GetInode(fh.Ino); err != nil {
			return errno(err)
		}
	}
	return nil
}

// ReleaseFileHandle implements fuseutil.FileSystem.
func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	h, ok := fs.handles.Release(uint64(op.Handle))
	if !ok || h.File == nil {
		return nil
	}
	fh := h.File

	if err := fs.flushHandle(ctx, fh); err != nil {
		fs.log.Error().Err(err).Uint64("ino", fh.Ino).Msg("release flush failed")
	}

	state, ok := fs.inodes.Get(fh.Ino)
	if !ok {
		return nil
	}
	_, pendingUnlink, dead := state.Release()
	if pendingUnlink && state.OpenCount() == 0 {
		if err := fs.finalizeUnlink(fh.Ino); err != nil {
			return errno(err)
		}
		fs.orphans.Remove(fh.Ino)
		return nil
	}
	if dead {
		fs.inodes.Drop(fh.Ino)
	}
	return nil
}

// finalizeUnlink frees ino's inode bit, deletes its metadata record, and
// removes its host data file. Shared between ReleaseFileHandle's
// synchronous path and the background writer's sweep, per spec.md §4.5.
func (fs *FS) finalizeUnlink(ino uint64) error {
	fs.metadb.DeleteInode(ino)
	if err := fs.commitPending(); err != nil {
		return err
	}
	if err := fs.alloc.Free(ino); err != nil {
		return err
	}
	if err := fs.commitPending(); err != nil {
		return err
	}
	if err := fs.files.Remove(ino); err != nil {
		return err
	}
	fs.inodes.Drop(ino)
	return nil
}

// OpenDir implements fuseutil.FileSystem.
func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	ino := uint64(op.Inode)
	if _, err := fs.state(ino); err != nil {
		return errno(err)
	}

	children, err := fs.dirs.Snapshot(ino)
	if err != nil {
		return errno(err)
	}
	dh := handle.NewDirHandle(0, ino, children)
	op.Handle = fuseops.HandleID(fs.handles.NewDir(dh))
	return nil
}

// ReadDir implements fuseutil.FileSystem, serving from the opendir-time
// snapshot so concurrent mutations don't affect an in-flight iteration.
func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dh, err := fs.handles.Dir(uint64(op.Handle))
	if err != nil {
		return errno(err)
	}

	entries := dh.At(int(op.Offset))
	n := 0
	for i, e := range entries {
		in, err := fs.metadb.GetInode(e.Ino)
		if err != nil {
			continue
		}
		dirent := fuseutilDirent(op.Offset+fuseops.DirOffset(i)+1, e.Name, e.Ino, in)
		written := writeDirent(op.Dst[n:], dirent)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

// ReleaseDirHandle implements fuseutil.FileSystem.
func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.handles.Release(uint64(op.Handle))
	return nil
}
