package inodefs

import (
	"context"
	"sort"

	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

// Mkdir creates p. A recursive mkdir creates the missing ancestors one
// transaction each, shallowest first; every step tolerates a directory
// created concurrently by someone else.
func (fs *FS) Mkdir(ctx context.Context, p string, opts types.MkdirOptions) error {
	p, err := vfs.Clean("mkdir", p)
	if err != nil {
		return err
	}

	if !opts.Recursive {
		err = fs.store.Update(ctx, func(tx kv.Tx) error {
			if _, err := lookupIno(tx, p); err == nil {
				return types.EEXIST
			} else if err != types.ENOENT {
				return err
			}
			if err := fs.checkParent(tx, p); err != nil {
				return err
			}
			return fs.mkdirStep(tx, p)
		})
		return types.Wrap(err, "mkdir", p)
	}

	missing := []string{}
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		for d := p; ; d, _ = vfs.Split(d) {
			inode, err := fs.lookup(tx, d)
			if err == types.ENOENT {
				missing = append(missing, d)
				continue
			}
			if err != nil {
				return err
			}
			if d == p {
				return types.EEXIST
			}
			if !inode.IsDir() {
				return types.ENOTDIR
			}
			return nil
		}
	})
	if err != nil {
		return types.Wrap(err, "mkdir", p)
	}

	for i := len(missing) - 1; i >= 0; i-- {
		d := missing[i]
		err = fs.store.Update(ctx, func(tx kv.Tx) error {
			inode, err := fs.lookup(tx, d)
			if err == nil {
				if inode.IsDir() {
					return nil
				}
				return types.ENOTDIR
			}
			if err != types.ENOENT {
				return err
			}
			return fs.mkdirStep(tx, d)
		})
		if err != nil {
			return types.Wrap(err, "mkdir", d)
		}
		fs.step("mkdir", d)
	}
	return nil
}

func (fs *FS) mkdirStep(tx kv.Tx, p string) error {
	inode, err := fs.newInode(tx, types.KindDir)
	if err != nil {
		return err
	}
	logg.Dlog.Debugf("mkdir path:%s ino:%d", p, inode.Ino)
	return tx.Put(kv.TableTree, []byte(p), inoKey(inode.Ino))
}

// Remove unlinks p. Symlinks are removed themselves, never their target.
// A recursive remove of a directory unlinks the subtree deepest first, one
// transaction per entry.
func (fs *FS) Remove(ctx context.Context, p string, opts types.RemoveOptions) error {
	p, err := vfs.Clean("remove", p)
	if err != nil {
		return err
	}
	if p == "/" {
		return types.Errorf(types.KindPermissionDenied, "remove", p)
	}

	if opts.Recursive {
		var subtree []string
		err = fs.store.View(ctx, func(tx kv.Tx) error {
			inode, err := fs.lookup(tx, p)
			if err != nil {
				return err
			}
			if !inode.IsDir() {
				return nil
			}
			subtree, err = descendants(tx, p)
			return err
		})
		if err != nil {
			return types.Wrap(err, "remove", p)
		}

		// a descendant always sorts after its ancestors
		sort.Sort(sort.Reverse(sort.StringSlice(subtree)))
		for _, d := range subtree {
			err = fs.store.Update(ctx, func(tx kv.Tx) error {
				err := fs.unlinkPath(tx, d)
				if err == types.ENOENT {
					return nil
				}
				return err
			})
			if err != nil {
				return types.Wrap(err, "remove", d)
			}
			fs.step("remove", d)
		}
	}

	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		inode, err := fs.lookup(tx, p)
		if err != nil {
			return err
		}
		if inode.IsDir() {
			busy, err := hasChildren(tx, p)
			if err != nil {
				return err
			}
			if busy {
				return types.ENOTEMPTY
			}
		}
		return fs.unlinkPath(tx, p)
	})
	if err != nil {
		logg.Dlog.Debugf("remove path:%s err:%v", p, err)
	}
	return types.Wrap(err, "remove", p)
}

// Rename moves oldpath to newpath in one transaction, carrying every
// descendant key along when oldpath is a directory.
func (fs *FS) Rename(ctx context.Context, oldpath, newpath string) error {
	oldpath, err := vfs.Clean("rename", oldpath)
	if err != nil {
		return err
	}
	newpath, err = vfs.Clean("rename", newpath)
	if err != nil {
		return err
	}
	if oldpath == "/" || newpath == "/" {
		return types.Errorf(types.KindInvalidArgument, "rename", oldpath)
	}
	if oldpath != newpath && vfs.IsUnder(newpath, oldpath) {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: "rename", Path: oldpath, Msg: "cannot move into itself"}
	}

	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		srcIno, err := lookupIno(tx, oldpath)
		if err != nil {
			return err
		}
		if oldpath == newpath {
			return nil
		}
		src, err := getInode(tx, srcIno)
		if err != nil {
			return err
		}
		if err := fs.checkParent(tx, newpath); err != nil {
			return err
		}

		if dst, err := fs.lookup(tx, newpath); err == nil {
			if dst.Ino == srcIno {
				return nil
			}
			switch {
			case src.IsDir() && !dst.IsDir():
				return types.ENOTDIR
			case !src.IsDir() && dst.IsDir():
				return types.EISDIR
			case dst.IsDir():
				busy, err := hasChildren(tx, newpath)
				if err != nil {
					return err
				}
				if busy {
					return types.ENOTEMPTY
				}
			}
			if err := fs.unlinkPath(tx, newpath); err != nil {
				return err
			}
		} else if err != types.ENOENT {
			return err
		}

		moves := []string{oldpath}
		if src.IsDir() {
			sub, err := descendants(tx, oldpath)
			if err != nil {
				return err
			}
			moves = append(moves, sub...)
		}

		for _, from := range moves {
			v, err := tx.Get(kv.TableTree, []byte(from))
			if err != nil {
				return err
			}
			to := newpath + from[len(oldpath):]
			if err := tx.Delete(kv.TableTree, []byte(from)); err != nil {
				return err
			}
			if err := tx.Put(kv.TableTree, []byte(to), v); err != nil {
				return err
			}
		}
		if err := moveSymlinkTargets(tx, oldpath, newpath); err != nil {
			return err
		}
		logg.Dlog.Debugf("rename %s -> %s moved:%d", oldpath, newpath, len(moves))
		return nil
	})
	return types.Wrap(err, "rename", oldpath)
}

func (fs *FS) ReadDir(ctx context.Context, p string) (vfs.DirIterator, error) {
	p, err := vfs.Clean("readDir", p)
	if err != nil {
		return nil, err
	}

	var dir string
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		dir, _, err = fs.resolveDirPath(tx, p)
		return err
	})
	if err != nil {
		return nil, types.Wrap(err, "readDir", p)
	}
	return newDirIter(ctx, fs, dir), nil
}

// dirIter pages through the tree table ReadDirBatchCount keys at a time,
// keeping only direct children.
type dirIter struct {
	ctx    context.Context
	fs     *FS
	prefix string

	batch []types.DirEntry
	pos   int
	// last tree key consumed
	last []byte
	done bool
	err  error
}

func newDirIter(ctx context.Context, fs *FS, dir string) *dirIter {
	return &dirIter{ctx: ctx, fs: fs, prefix: childPrefix(dir), pos: -1}
}

func (it *dirIter) Next() bool {
	for {
		if it.err != nil {
			return false
		}
		if it.pos+1 < len(it.batch) {
			it.pos++
			return true
		}
		if it.done {
			return false
		}
		it.fill()
	}
}

func (it *dirIter) fill() {
	var start []byte
	if it.last != nil {
		start = append(append([]byte{}, it.last...), 0)
	}

	batch := []types.DirEntry{}
	scanned := 0
	it.err = it.fs.store.View(it.ctx, func(tx kv.Tx) error {
		var innerErr error
		err := tx.Scan(kv.TableTree, []byte(it.prefix), start, func(k, v []byte) bool {
			scanned++
			it.last = k
			name := directChild(it.prefix, string(k))
			if name == "" {
				return scanned < types.ReadDirBatchCount
			}
			inode, err := getInode(tx, decodeIno(v))
			if err == types.ENOENT {
				return scanned < types.ReadDirBatchCount
			}
			if err != nil {
				innerErr = err
				return false
			}
			batch = append(batch, types.NewDirEntry(name, inode.Kind))
			return scanned < types.ReadDirBatchCount
		})
		if err != nil {
			return err
		}
		return innerErr
	})

	if scanned < types.ReadDirBatchCount {
		it.done = true
	}
	it.batch = batch
	it.pos = -1
}

func (it *dirIter) Entry() types.DirEntry {
	return it.batch[it.pos]
}

func (it *dirIter) Err() error {
	return it.err
}

func (it *dirIter) Reset() {
	it.batch = nil
	it.pos = -1
	it.last = nil
	it.done = false
	it.err = nil
}
