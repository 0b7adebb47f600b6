package nativefs

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/lambertxiao/go-vfs/pkg/handle"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

// FS serves the vfs surface from a directory handle tree. It keeps no
// metadata of its own: size and mtime come from the handles on every call.
type FS struct {
	root  handle.DirectoryHandle
	table *resource.Table
}

var _ vfs.FileSystem = (*FS)(nil)

func New(root handle.DirectoryHandle, table *resource.Table) *FS {
	return &FS{root: root, table: table}
}

// Link, Symlink and ReadLink are not available on handle trees.
func (fs *FS) Caps() vfs.Caps {
	return vfs.CapCopy | vfs.CapRename
}

func segments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// dir walks to the directory at p, creating missing levels when asked.
func (fs *FS) dir(ctx context.Context, p string, create bool) (handle.DirectoryHandle, error) {
	d := fs.root
	for _, name := range segments(p) {
		next, err := d.GetDirectoryHandle(ctx, name, create)
		if err != nil {
			return nil, err
		}
		d = next
	}
	return d, nil
}

// parent walks to the directory holding p and returns it with p's name.
func (fs *FS) parent(ctx context.Context, p string) (handle.DirectoryHandle, string, error) {
	dir, name := vfs.Split(p)
	d, err := fs.dir(ctx, dir, false)
	if err != nil {
		return nil, "", err
	}
	return d, name, nil
}

func (fs *FS) requestWrite(ctx context.Context, h handle.Handle) error {
	state, err := h.RequestPermission(ctx, handle.ModeReadWrite)
	if err != nil {
		return err
	}
	if state != handle.Granted {
		return types.EPERM
	}
	return nil
}

func dirInfo() types.FileInfo {
	return types.FileInfo{IsDirectory: true, Nlink: 1}
}

func fileInfo(ctx context.Context, fh handle.FileHandle) (types.FileInfo, error) {
	blob, err := fh.GetFile(ctx)
	if err != nil {
		return types.FileInfo{}, err
	}
	defer blob.Close()
	return types.FileInfo{
		IsFile:    true,
		Size:      uint64(blob.Size()),
		Mtime:     blob.LastModified(),
		Birthtime: blob.LastModified(),
		Nlink:     1,
	}, nil
}

// entry resolves p to either a file handle or a directory handle.
func (fs *FS) entry(ctx context.Context, p string) (handle.FileHandle, handle.DirectoryHandle, error) {
	if p == "/" {
		return nil, fs.root, nil
	}
	parent, name, err := fs.parent(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	fh, err := parent.GetFileHandle(ctx, name, false)
	if err == nil {
		return fh, nil, nil
	}
	if err != types.EISDIR {
		return nil, nil, err
	}
	d, err := parent.GetDirectoryHandle(ctx, name, false)
	return nil, d, err
}

func (fs *FS) Stat(ctx context.Context, p string) (types.FileInfo, error) {
	p, err := vfs.Clean("stat", p)
	if err != nil {
		return types.FileInfo{}, err
	}
	fh, _, err := fs.entry(ctx, p)
	if err != nil {
		return types.FileInfo{}, types.Wrap(err, "stat", p)
	}
	if fh == nil {
		return dirInfo(), nil
	}
	info, err := fileInfo(ctx, fh)
	return info, types.Wrap(err, "stat", p)
}

// Lstat equals Stat, handle trees hold no symlinks.
func (fs *FS) Lstat(ctx context.Context, p string) (types.FileInfo, error) {
	info, err := fs.Stat(ctx, p)
	if err != nil {
		return info, types.Wrap(err, "lstat", p)
	}
	return info, nil
}

func (fs *FS) Open(ctx context.Context, p string, opts types.OpenOptions) (vfs.File, error) {
	p, err := vfs.Clean("open", p)
	if err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	of, err := fs.open(ctx, p, opts)
	if err != nil {
		return nil, types.Wrap(err, "open", p)
	}
	of.rid = fs.table.Add(of)
	logg.Dlog.Debugf("native open path:%s rid:%d opts:%+v", p, of.rid, opts)
	return of, nil
}

func (fs *FS) open(ctx context.Context, p string, opts types.OpenOptions) (*File, error) {
	mutating := opts.Writable() || opts.Truncate
	if p == "/" {
		if opts.CreateNew {
			return nil, types.EEXIST
		}
		if mutating {
			return nil, types.EISDIR
		}
		return &File{fs: fs, path: p, opts: opts, isDir: true}, nil
	}

	parent, name, err := fs.parent(ctx, p)
	if err != nil {
		return nil, err
	}
	if mutating || opts.Create {
		if err := fs.requestWrite(ctx, parent); err != nil {
			return nil, err
		}
	}

	fh, err := parent.GetFileHandle(ctx, name, false)
	switch {
	case err == types.EISDIR:
		if opts.CreateNew {
			return nil, types.EEXIST
		}
		if mutating {
			return nil, err
		}
		return &File{fs: fs, path: p, opts: opts, isDir: true}, nil
	case err == types.ENOENT && opts.Create:
		if fh, err = parent.GetFileHandle(ctx, name, true); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case opts.CreateNew:
		return nil, types.EEXIST
	case opts.Truncate:
		w, err := fh.CreateWritable(ctx, false)
		if err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return &File{fs: fs, fh: fh, path: p, opts: opts}, nil
}

func (fs *FS) Create(ctx context.Context, p string) (vfs.File, error) {
	return fs.Open(ctx, p, types.CreateOptions())
}

func (fs *FS) Mkdir(ctx context.Context, p string, opts types.MkdirOptions) error {
	p, err := vfs.Clean("mkdir", p)
	if err != nil {
		return err
	}
	if p == "/" {
		return types.Errorf(types.KindAlreadyExists, "mkdir", p)
	}

	_, _, err = fs.entry(ctx, p)
	if err == nil {
		return types.Errorf(types.KindAlreadyExists, "mkdir", p)
	}
	if err != types.ENOENT {
		return types.Wrap(err, "mkdir", p)
	}

	dir, name := vfs.Split(p)
	parent, err := fs.dir(ctx, dir, opts.Recursive)
	if err != nil {
		return types.Wrap(err, "mkdir", p)
	}
	if err := fs.requestWrite(ctx, parent); err != nil {
		return types.Wrap(err, "mkdir", p)
	}
	_, err = parent.GetDirectoryHandle(ctx, name, true)
	return types.Wrap(err, "mkdir", p)
}

func (fs *FS) Remove(ctx context.Context, p string, opts types.RemoveOptions) error {
	p, err := vfs.Clean("remove", p)
	if err != nil {
		return err
	}
	if p == "/" {
		return types.Errorf(types.KindPermissionDenied, "remove", p)
	}

	parent, name, err := fs.parent(ctx, p)
	if err == nil {
		err = parent.RemoveEntry(ctx, name, opts.Recursive)
	}
	return types.Wrap(err, "remove", p)
}

// Rename copies then deletes; handle trees have no move primitive.
func (fs *FS) Rename(ctx context.Context, oldpath, newpath string) error {
	oldpath, err := vfs.Clean("rename", oldpath)
	if err != nil {
		return err
	}
	newpath, err = vfs.Clean("rename", newpath)
	if err != nil {
		return err
	}
	if oldpath == newpath {
		_, err := fs.Stat(ctx, oldpath)
		return types.Wrap(err, "rename", oldpath)
	}
	if oldpath == "/" || vfs.IsUnder(newpath, oldpath) {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: "rename", Path: oldpath, Msg: "cannot move into itself"}
	}

	if err := vfs.CopyTree(ctx, fs, oldpath, fs, newpath); err != nil {
		return types.Wrap(err, "rename", oldpath)
	}
	return fs.Remove(ctx, oldpath, types.RemoveOptions{Recursive: true})
}

func (fs *FS) Link(ctx context.Context, oldpath, newpath string) error {
	return types.Errorf(types.KindNotImplemented, "link", oldpath)
}

func (fs *FS) Symlink(ctx context.Context, target, newpath string) error {
	return types.Errorf(types.KindNotImplemented, "symlink", newpath)
}

func (fs *FS) ReadLink(ctx context.Context, p string) (string, error) {
	return "", types.Errorf(types.KindNotImplemented, "readLink", p)
}

func (fs *FS) ReadDir(ctx context.Context, p string) (vfs.DirIterator, error) {
	p, err := vfs.Clean("readDir", p)
	if err != nil {
		return nil, err
	}

	fh, d, err := fs.entry(ctx, p)
	if err != nil {
		return nil, types.Wrap(err, "readDir", p)
	}
	if fh != nil {
		return nil, types.Errorf(types.KindNotADirectory, "readDir", p)
	}

	entries, err := d.Entries(ctx)
	if err != nil {
		return nil, types.Wrap(err, "readDir", p)
	}
	dirents := make([]types.DirEntry, 0, len(entries))
	for _, e := range entries {
		kind := types.KindFile
		if e.Kind == handle.KindDirectory {
			kind = types.KindDir
		}
		dirents = append(dirents, types.NewDirEntry(e.Name, kind))
	}
	sort.Sort(types.SortDirEntries(dirents))
	return vfs.NewSliceIterator(dirents), nil
}

func (fs *FS) Truncate(ctx context.Context, p string, size int64) error {
	p, err := vfs.Clean("truncate", p)
	if err != nil {
		return err
	}
	if size < 0 || size > types.MAX_FILE_SIZE {
		return types.Errorf(types.KindInvalidArgument, "truncate", p)
	}

	fh, _, err := fs.entry(ctx, p)
	if err == nil && fh == nil {
		err = types.EISDIR
	}
	if err == nil {
		err = truncateHandle(ctx, fh, size)
	}
	return types.Wrap(err, "truncate", p)
}

func truncateHandle(ctx context.Context, fh handle.FileHandle, size int64) error {
	w, err := fh.CreateWritable(ctx, true)
	if err != nil {
		return err
	}
	if err := w.Truncate(size); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func (fs *FS) CopyFile(ctx context.Context, src, dst string) error {
	src, err := vfs.Clean("copyFile", src)
	if err != nil {
		return err
	}
	dst, err = vfs.Clean("copyFile", dst)
	if err != nil {
		return err
	}

	data, err := vfs.ReadFile(ctx, fs, src)
	if err != nil {
		return types.Wrap(err, "copyFile", src)
	}
	return types.Wrap(vfs.WriteFile(ctx, fs, dst, data), "copyFile", dst)
}

func (fs *FS) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	_, err := fs.Stat(ctx, p)
	return types.Wrap(err, "chmod", p)
}

func (fs *FS) Chown(ctx context.Context, p string, uid, gid int) error {
	_, err := fs.Stat(ctx, p)
	return types.Wrap(err, "chown", p)
}
