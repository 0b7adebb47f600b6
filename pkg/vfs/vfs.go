package vfs

import (
	"context"
	"os"

	"github.com/lambertxiao/go-vfs/pkg/types"
)

// Caps lists the optional operations a backend really implements. A
// backend still answers every FileSystem method, returning ENOSYS for the
// ones it lacks; the router consults Caps instead of probing.
type Caps uint32

const (
	CapLink Caps = 1 << iota
	CapSymlink
	CapCopy
	CapRename
)

func (c Caps) Has(x Caps) bool {
	return c&x == x
}

// File is an open handle. It satisfies io.Reader, io.Writer and io.Seeker;
// Read returns io.EOF at end of content.
type File interface {
	Rid() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Stat() (types.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	Datasync() error
	Close() error
}

// DirIterator walks the direct children of a directory. It is lazy and
// can be restarted with Reset.
type DirIterator interface {
	Next() bool
	Entry() types.DirEntry
	Err() error
	Reset()
}

type FileSystem interface {
	Open(ctx context.Context, path string, opts types.OpenOptions) (File, error)
	Create(ctx context.Context, path string) (File, error)
	Mkdir(ctx context.Context, path string, opts types.MkdirOptions) error
	Remove(ctx context.Context, path string, opts types.RemoveOptions) error
	Rename(ctx context.Context, oldpath, newpath string) error
	Link(ctx context.Context, oldpath, newpath string) error
	Symlink(ctx context.Context, target, newpath string) error
	ReadLink(ctx context.Context, path string) (string, error)
	ReadDir(ctx context.Context, path string) (DirIterator, error)
	Stat(ctx context.Context, path string) (types.FileInfo, error)
	Lstat(ctx context.Context, path string) (types.FileInfo, error)
	Truncate(ctx context.Context, path string, size int64) error
	CopyFile(ctx context.Context, src, dst string) error
	Chmod(ctx context.Context, path string, mode os.FileMode) error
	Chown(ctx context.Context, path string, uid, gid int) error
	Caps() Caps
}
