package union

import (
	"context"
	"errors"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

func (r *Router) Caps() vfs.Caps {
	return vfs.CapLink | vfs.CapSymlink | vfs.CapCopy | vfs.CapRename
}

// at cleans p and resolves it, the returned target carries the backend
// path.
func (r *Router) at(op, p string) (string, target, error) {
	p, err := vfs.Clean(op, p)
	if err != nil {
		return "", target{}, err
	}
	return p, r.resolve(p), nil
}

func (r *Router) Open(ctx context.Context, p string, opts types.OpenOptions) (vfs.File, error) {
	p, t, err := r.at("open", p)
	if err != nil {
		return nil, err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "open", st)
	}()

	f, err := t.fs.Open(ctx, t.rel, opts)
	if err != nil {
		return nil, relabel(err, p)
	}
	return f, nil
}

func (r *Router) Create(ctx context.Context, p string) (vfs.File, error) {
	return r.Open(ctx, p, types.CreateOptions())
}

func (r *Router) Mkdir(ctx context.Context, p string, opts types.MkdirOptions) error {
	p, t, err := r.at("mkdir", p)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "mkdir", st)
	}()

	return relabel(t.fs.Mkdir(ctx, t.rel, opts), p)
}

func (r *Router) Remove(ctx context.Context, p string, opts types.RemoveOptions) error {
	p, t, err := r.at("remove", p)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "remove", st)
	}()

	if r.isMountPoint(p) || (opts.Recursive && r.isMountAncestor(p)) {
		return &types.FSError{Kind: types.KindPermissionDenied, Op: "remove", Path: p, Msg: "mount point busy"}
	}
	if r.isMountAncestor(p) {
		return types.Errorf(types.KindDirectoryNotEmpty, "remove", p)
	}
	return relabel(t.fs.Remove(ctx, t.rel, opts), p)
}

func (r *Router) Rename(ctx context.Context, oldpath, newpath string) error {
	oldpath, src, err := r.at("rename", oldpath)
	if err != nil {
		return err
	}
	newpath, dst, err := r.at("rename", newpath)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(src.backend, "rename", st)
	}()

	if r.isMountAncestor(oldpath) {
		return &types.FSError{Kind: types.KindPermissionDenied, Op: "rename", Path: oldpath, Msg: "mount point busy"}
	}
	if src.same(dst) && src.fs.Caps().Has(vfs.CapRename) {
		return relabel(src.fs.Rename(ctx, src.rel, dst.rel), oldpath)
	}
	if oldpath == newpath {
		return nil
	}
	if vfs.IsUnder(newpath, oldpath) {
		return types.Errorf(types.KindInvalidArgument, "rename", newpath)
	}

	logg.Dlog.Debugf("rename by copy old:%s new:%s from:%s to:%s", oldpath, newpath, src.backend, dst.backend)
	if err := vfs.CopyTree(ctx, src.fs, src.rel, dst.fs, dst.rel); err != nil {
		return relabel(err, oldpath)
	}
	// the copy is complete, a failure here leaves both trees behind
	if err := src.fs.Remove(ctx, src.rel, types.RemoveOptions{Recursive: true}); err != nil {
		return relabel(err, oldpath)
	}
	return nil
}

func (r *Router) Link(ctx context.Context, oldpath, newpath string) error {
	oldpath, src, err := r.at("link", oldpath)
	if err != nil {
		return err
	}
	newpath, dst, err := r.at("link", newpath)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(src.backend, "link", st)
	}()

	if src.same(dst) {
		if !src.fs.Caps().Has(vfs.CapLink) {
			return types.Errorf(types.KindNotImplemented, "link", oldpath)
		}
		return relabel(src.fs.Link(ctx, src.rel, dst.rel), oldpath)
	}

	info, err := src.fs.Stat(ctx, src.rel)
	if err != nil {
		return relabel(err, oldpath)
	}
	if info.IsDirectory {
		return types.Errorf(types.KindNotImplemented, "link", oldpath)
	}
	if _, err := dst.fs.Lstat(ctx, dst.rel); err == nil {
		return types.Errorf(types.KindAlreadyExists, "link", newpath)
	} else if !errors.Is(err, types.ENOENT) {
		return relabel(err, newpath)
	}

	data, err := vfs.ReadFile(ctx, src.fs, src.rel)
	if err != nil {
		return relabel(err, oldpath)
	}
	return relabel(vfs.WriteFile(ctx, dst.fs, dst.rel, data), newpath)
}

// Symlink records target inside the backend owning newpath. Absolute
// targets are translated to that backend and must live on it.
func (r *Router) Symlink(ctx context.Context, target, newpath string) error {
	newpath, t, err := r.at("symlink", newpath)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "symlink", st)
	}()

	if !t.fs.Caps().Has(vfs.CapSymlink) {
		return types.Errorf(types.KindNotImplemented, "symlink", newpath)
	}
	if strings.HasPrefix(target, "/") {
		tt := r.resolve(path.Clean(target))
		if !tt.same(t) {
			return &types.FSError{Kind: types.KindNotImplemented, Op: "symlink", Path: newpath, Msg: "target on another mount"}
		}
		target = tt.rel
	}
	return relabel(t.fs.Symlink(ctx, target, t.rel), newpath)
}

func (r *Router) ReadLink(ctx context.Context, p string) (string, error) {
	p, t, err := r.at("readLink", p)
	if err != nil {
		return "", err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "readLink", st)
	}()

	target, err := t.fs.ReadLink(ctx, t.rel)
	if err != nil {
		return "", relabel(err, p)
	}
	if strings.HasPrefix(target, "/") {
		return t.abs(target), nil
	}
	return target, nil
}

// ReadDir lists p, adding one directory entry per mount point directly
// below it. Mount entries shadow backend entries of the same name.
func (r *Router) ReadDir(ctx context.Context, p string) (vfs.DirIterator, error) {
	p, t, err := r.at("readDir", p)
	if err != nil {
		return nil, err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "readDir", st)
	}()

	mounted := r.childMounts(p)
	it, err := t.fs.ReadDir(ctx, t.rel)
	if len(mounted) == 0 {
		if err != nil {
			return nil, relabel(err, p)
		}
		return &pathIterator{DirIterator: it, path: p}, nil
	}

	entries := []types.DirEntry{}
	switch {
	case err == nil:
		if entries, err = vfs.ReadDirAll(it); err != nil {
			return nil, relabel(err, p)
		}
	case errors.Is(err, types.ENOENT):
	default:
		return nil, relabel(err, p)
	}

	return vfs.NewSliceIterator(mergeEntries(entries, mounted)), nil
}

func mergeEntries(entries []types.DirEntry, mounted []string) []types.DirEntry {
	shadow := make(map[string]bool, len(mounted))
	for _, name := range mounted {
		shadow[name] = true
	}

	merged := make([]types.DirEntry, 0, len(entries)+len(mounted))
	for _, e := range entries {
		if !shadow[e.Name] {
			merged = append(merged, e)
		}
	}
	for _, name := range mounted {
		merged = append(merged, types.DirEntry{Name: name, IsDirectory: true})
	}
	sort.Sort(types.SortDirEntries(merged))
	return merged
}

func (r *Router) Stat(ctx context.Context, p string) (types.FileInfo, error) {
	return r.stat(ctx, "stat", p, false)
}

func (r *Router) Lstat(ctx context.Context, p string) (types.FileInfo, error) {
	return r.stat(ctx, "lstat", p, true)
}

func (r *Router) stat(ctx context.Context, op, p string, nofollow bool) (types.FileInfo, error) {
	p, t, err := r.at(op, p)
	if err != nil {
		return types.FileInfo{}, err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, op, st)
	}()

	var info types.FileInfo
	if nofollow {
		info, err = t.fs.Lstat(ctx, t.rel)
	} else {
		info, err = t.fs.Stat(ctx, t.rel)
	}
	if errors.Is(err, types.ENOENT) && r.isMountAncestor(p) {
		return types.FileInfo{IsDirectory: true, Nlink: 1}, nil
	}
	if err != nil {
		return types.FileInfo{}, relabel(err, p)
	}
	return info, nil
}

func (r *Router) Truncate(ctx context.Context, p string, size int64) error {
	p, t, err := r.at("truncate", p)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(t.backend, "truncate", st)
	}()

	return relabel(t.fs.Truncate(ctx, t.rel, size), p)
}

func (r *Router) CopyFile(ctx context.Context, srcpath, dstpath string) error {
	srcpath, src, err := r.at("copyFile", srcpath)
	if err != nil {
		return err
	}
	dstpath, dst, err := r.at("copyFile", dstpath)
	if err != nil {
		return err
	}
	st := time.Now()
	defer func() {
		r.observeOP(src.backend, "copyFile", st)
	}()

	if src.same(dst) && src.fs.Caps().Has(vfs.CapCopy) {
		return relabel(src.fs.CopyFile(ctx, src.rel, dst.rel), srcpath)
	}

	info, err := src.fs.Stat(ctx, src.rel)
	if err != nil {
		return relabel(err, srcpath)
	}
	if info.IsDirectory {
		return types.Errorf(types.KindIsADirectory, "copyFile", srcpath)
	}
	if di, err := dst.fs.Stat(ctx, dst.rel); err == nil && di.IsDirectory {
		return types.Errorf(types.KindIsADirectory, "copyFile", dstpath)
	}

	data, err := vfs.ReadFile(ctx, src.fs, src.rel)
	if err != nil {
		return relabel(err, srcpath)
	}
	return relabel(vfs.WriteFile(ctx, dst.fs, dst.rel, data), dstpath)
}

func (r *Router) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	p, t, err := r.at("chmod", p)
	if err != nil {
		return err
	}
	return relabel(t.fs.Chmod(ctx, t.rel, mode), p)
}

func (r *Router) Chown(ctx context.Context, p string, uid, gid int) error {
	p, t, err := r.at("chown", p)
	if err != nil {
		return err
	}
	return relabel(t.fs.Chown(ctx, t.rel, uid, gid), p)
}

// pathIterator reports iteration errors against the router path.
type pathIterator struct {
	vfs.DirIterator
	path string
}

func (it *pathIterator) Err() error {
	return relabel(it.DirIterator.Err(), it.path)
}
