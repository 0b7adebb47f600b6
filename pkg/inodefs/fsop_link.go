package inodefs

import (
	"context"
	"path"

	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

// Link adds newpath as another name of the inode at oldpath. Directories
// cannot be hard linked.
func (fs *FS) Link(ctx context.Context, oldpath, newpath string) error {
	oldpath, err := vfs.Clean("link", oldpath)
	if err != nil {
		return err
	}
	newpath, err = vfs.Clean("link", newpath)
	if err != nil {
		return err
	}

	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		inode, err := fs.lookup(tx, oldpath)
		if err != nil {
			return err
		}
		if inode.IsDir() {
			return types.ENOSYS
		}
		if _, err := lookupIno(tx, newpath); err == nil {
			return types.EEXIST
		} else if err != types.ENOENT {
			return err
		}
		if err := fs.checkParent(tx, newpath); err != nil {
			return err
		}

		if err := tx.Put(kv.TableTree, []byte(newpath), inoKey(inode.Ino)); err != nil {
			return err
		}
		inode.Nlink++
		return putInode(tx, inode)
	})
	return types.Wrap(err, "link", oldpath)
}

// Symlink creates newpath pointing at target. A relative target is taken
// relative to the directory of newpath; the target must exist.
func (fs *FS) Symlink(ctx context.Context, target, newpath string) error {
	newpath, err := vfs.Clean("symlink", newpath)
	if err != nil {
		return err
	}
	if target == "" {
		return types.Errorf(types.KindInvalidArgument, "symlink", newpath)
	}
	abs := target
	if !path.IsAbs(abs) {
		dir, _ := vfs.Split(newpath)
		abs = path.Join(dir, target)
	}
	abs = path.Clean(abs)

	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		if _, err := lookupIno(tx, newpath); err == nil {
			return types.EEXIST
		} else if err != types.ENOENT {
			return err
		}
		if err := fs.checkParent(tx, newpath); err != nil {
			return err
		}
		targetIno, err := lookupIno(tx, abs)
		if err != nil {
			return err
		}

		inode, err := fs.newInode(tx, types.KindSymlink)
		if err != nil {
			return err
		}
		rec := &symlinkRecord{Target: targetIno, Path: target, Abs: abs}
		if err := putSymlink(tx, inode.Ino, rec); err != nil {
			return err
		}
		logg.Dlog.Debugf("symlink %s -> %s ino:%d target:%d", newpath, target, inode.Ino, targetIno)
		return tx.Put(kv.TableTree, []byte(newpath), inoKey(inode.Ino))
	})
	return types.Wrap(err, "symlink", newpath)
}

func (fs *FS) ReadLink(ctx context.Context, p string) (string, error) {
	p, err := vfs.Clean("readLink", p)
	if err != nil {
		return "", err
	}

	var target string
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		inode, err := fs.lookup(tx, p)
		if err != nil {
			return err
		}
		if !inode.IsSymlink() {
			return types.EINVAL
		}
		rec, err := getSymlink(tx, inode.Ino)
		if err != nil {
			return err
		}
		target = rec.Path
		return nil
	})
	return target, types.Wrap(err, "readLink", p)
}
