package fsadapter

import (
	"github.com/abbycin/junkfs/internal/meta"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

func direntType(in *meta.Inode) fuseutil.DirentType {
	switch in.Kind {
	case meta.KindDir:
		return fuseutil.DT_Directory
	case meta.KindSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

func fuseutilDirent(offset fuseops.DirOffset, name string, ino uint64, in *meta.Inode) fuseutil.Dirent {
	return fuseutil.Dirent{
		Offset: offset,
		Inode:  fuseops.InodeID(ino),
		Name:   name,
		Type:   direntType(in),
	}
}

func writeDirent(dst []byte, d fuseutil.Dirent) int {
	return fuseutil.WriteDirent(dst, d)
}
