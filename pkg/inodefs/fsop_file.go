package inodefs

import (
	"context"

	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

func (fs *FS) Open(ctx context.Context, p string, opts types.OpenOptions) (vfs.File, error) {
	p, err := vfs.Clean("open", p)
	if err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	var inode *types.Inode
	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		cur, err := fs.lookup(tx, p)
		if err == types.ENOENT {
			if !opts.Create {
				return err
			}
			if err := fs.checkParent(tx, p); err != nil {
				return err
			}
			inode, err = fs.newInode(tx, types.KindFile)
			if err != nil {
				return err
			}
			return tx.Put(kv.TableTree, []byte(p), inoKey(inode.Ino))
		}
		if err != nil {
			return err
		}
		if opts.CreateNew {
			return types.EEXIST
		}

		inode, err = fs.follow(tx, cur)
		if err != nil {
			return err
		}
		if inode.IsDir() && (opts.Writable() || opts.Truncate) {
			return types.EISDIR
		}

		if opts.Truncate && inode.Size > 0 {
			inode.Size = 0
			inode.Touch(fs.clock.Now())
			if err := putContent(tx, inode.Ino, []byte{}); err != nil {
				return err
			}
			return putInode(tx, inode)
		}
		return nil
	})
	if err != nil {
		return nil, types.Wrap(err, "open", p)
	}

	of := newOpenFile(fs, p, inode, opts)
	of.rid = fs.table.Add(of)
	logg.Dlog.Debugf("open path:%s ino:%d rid:%d opts:%+v", p, inode.Ino, of.rid, opts)
	return of, nil
}

func (fs *FS) Create(ctx context.Context, p string) (vfs.File, error) {
	return fs.Open(ctx, p, types.CreateOptions())
}

// Truncate resizes the file at p, zero-filling when it grows.
func (fs *FS) Truncate(ctx context.Context, p string, size int64) error {
	p, err := vfs.Clean("truncate", p)
	if err != nil {
		return err
	}
	if size < 0 || size > types.MAX_FILE_SIZE {
		return types.Errorf(types.KindInvalidArgument, "truncate", p)
	}

	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		inode, err := fs.resolve(tx, p)
		if err != nil {
			return err
		}
		return fs.truncateInode(tx, inode, size)
	})
	return types.Wrap(err, "truncate", p)
}

func (fs *FS) truncateInode(tx kv.Tx, inode *types.Inode, size int64) error {
	if inode.IsDir() {
		return types.EISDIR
	}

	content, err := getContent(tx, inode.Ino)
	if err != nil {
		return err
	}
	content = resize(content, int(size))
	if err := putContent(tx, inode.Ino, content); err != nil {
		return err
	}

	inode.Size = uint64(size)
	inode.Touch(fs.clock.Now())
	return putInode(tx, inode)
}

func resize(content []byte, size int) []byte {
	if size <= len(content) {
		return content[:size]
	}
	grown := make([]byte, size)
	copy(grown, content)
	return grown
}

// CopyFile copies the content of src into dst, creating dst when missing.
// Both must be regular files once symlinks are followed.
func (fs *FS) CopyFile(ctx context.Context, src, dst string) error {
	src, err := vfs.Clean("copyFile", src)
	if err != nil {
		return err
	}
	dst, err = vfs.Clean("copyFile", dst)
	if err != nil {
		return err
	}

	err = fs.store.Update(ctx, func(tx kv.Tx) error {
		from, err := fs.resolve(tx, src)
		if err != nil {
			return err
		}
		if from.IsDir() {
			return types.EISDIR
		}
		content, err := getContent(tx, from.Ino)
		if err != nil {
			return err
		}

		to, err := fs.lookup(tx, dst)
		if err == nil {
			to, err = fs.follow(tx, to)
			if err == types.ENOENT {
				return err
			}
		}
		switch {
		case err == types.ENOENT:
			if err := fs.checkParent(tx, dst); err != nil {
				return err
			}
			if to, err = fs.newInode(tx, types.KindFile); err != nil {
				return err
			}
			if err := tx.Put(kv.TableTree, []byte(dst), inoKey(to.Ino)); err != nil {
				return err
			}
		case err != nil:
			return err
		case to.IsDir():
			return types.EISDIR
		case to.Ino == from.Ino:
			return nil
		}

		if err := putContent(tx, to.Ino, content); err != nil {
			return err
		}
		to.Size = uint64(len(content))
		to.Touch(fs.clock.Now())
		return putInode(tx, to)
	})
	return types.Wrap(err, "copyFile", src)
}
