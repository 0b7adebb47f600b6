package vfs

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/lambertxiao/go-vfs/pkg/types"
)

// Clean normalizes an absolute path. Relative paths are rejected.
func Clean(op, p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", &types.FSError{Kind: types.KindInvalidArgument, Op: op, Path: p, Msg: "path must be absolute"}
	}
	return path.Clean(p), nil
}

// Split returns the parent directory and base name of a clean path.
func Split(p string) (string, string) {
	if p == "/" {
		return "/", ""
	}
	dir, name := path.Split(p)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}
	return dir, name
}

// IsUnder reports whether p equals dir or lies below it.
func IsUnder(p, dir string) bool {
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

func ReadFile(ctx context.Context, fsys FileSystem, p string) ([]byte, error) {
	f, err := fsys.Open(ctx, p, types.OpenOptions{Read: true})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// WriteFile creates or truncates p and writes data to it.
func WriteFile(ctx context.Context, fsys FileSystem, p string, data []byte) error {
	f, err := fsys.Open(ctx, p, types.OpenOptions{Write: true, Create: true, Truncate: true})
	if err != nil {
		return err
	}

	if len(data) > 0 {
		if _, err = f.Write(data); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func ReadDirAll(it DirIterator) ([]types.DirEntry, error) {
	entries := []types.DirEntry{}
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}

// SliceIterator serves an already materialized listing.
type SliceIterator struct {
	entries []types.DirEntry
	pos     int
}

func NewSliceIterator(entries []types.DirEntry) *SliceIterator {
	return &SliceIterator{entries: entries, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.entries) {
		it.pos = len(it.entries)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Entry() types.DirEntry {
	return it.entries[it.pos]
}

func (it *SliceIterator) Err() error { return nil }

func (it *SliceIterator) Reset() { it.pos = -1 }

// CopyTree copies src on srcFS to dst on dstFS. Directories are copied
// recursively, symlinks are recreated when dstFS supports them. Nothing is
// removed from src.
func CopyTree(ctx context.Context, srcFS FileSystem, src string, dstFS FileSystem, dst string) error {
	info, err := srcFS.Lstat(ctx, src)
	if err != nil {
		return err
	}

	switch {
	case info.IsSymlink:
		target, err := srcFS.ReadLink(ctx, src)
		if err != nil {
			return err
		}
		if !dstFS.Caps().Has(CapSymlink) {
			return types.Errorf(types.KindNotImplemented, "symlink", dst)
		}
		return dstFS.Symlink(ctx, target, dst)

	case info.IsDirectory:
		err := dstFS.Mkdir(ctx, dst, types.MkdirOptions{})
		if errors.Is(err, types.EEXIST) {
			di, serr := dstFS.Stat(ctx, dst)
			if serr != nil {
				return serr
			}
			if !di.IsDirectory {
				return types.Errorf(types.KindNotADirectory, "copy", dst)
			}
		} else if err != nil {
			return err
		}
		it, err := srcFS.ReadDir(ctx, src)
		if err != nil {
			return err
		}
		entries, err := ReadDirAll(it)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := CopyTree(ctx, srcFS, path.Join(src, e.Name), dstFS, path.Join(dst, e.Name)); err != nil {
				return err
			}
		}
		return nil
	}

	data, err := ReadFile(ctx, srcFS, src)
	if err != nil {
		return err
	}
	return WriteFile(ctx, dstFS, dst, data)
}
