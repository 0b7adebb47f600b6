package inodefs

import (
	"context"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

type Options struct {
	// how long an open handle trusts its cached metadata and content
	CacheTTL time.Duration
	// symlink hops followed before FilesystemLoop
	SymlinkHops int
	Clock       clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = types.DEFAULT_CACHE_TTL
	}
	if o.SymlinkHops <= 0 {
		o.SymlinkHops = types.DEFAULT_SYMLINK_HOPS
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// FS is a POSIX-like filesystem persisted in a kv.Store. The tree table
// maps absolute paths to inode ids, so a directory's children are the keys
// sharing its prefix.
type FS struct {
	store kv.Store
	table *resource.Table
	opt   Options
	clock clockwork.Clock

	// called after every committed step of a multi-step operation
	afterStep func(op, path string)
}

var _ vfs.FileSystem = (*FS)(nil)

// New opens the filesystem over store, creating the root directory on
// first use. Open handles are registered in table.
func New(ctx context.Context, store kv.Store, table *resource.Table, opt Options) (*FS, error) {
	opt = opt.withDefaults()
	fs := &FS{
		store: store,
		table: table,
		opt:   opt,
		clock: opt.Clock,
	}

	err := store.Update(ctx, func(tx kv.Tx) error {
		_, err := lookupIno(tx, "/")
		if err == nil {
			return nil
		}
		if err != types.ENOENT {
			return err
		}

		root, err := fs.newInode(tx, types.KindDir)
		if err != nil {
			return err
		}
		logg.Dlog.Infof("init root ino:%d", root.Ino)
		return tx.Put(kv.TableTree, []byte("/"), inoKey(root.Ino))
	})
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FS) Caps() vfs.Caps {
	return vfs.CapLink | vfs.CapSymlink | vfs.CapCopy | vfs.CapRename
}

func (fs *FS) step(op, p string) {
	if fs.afterStep != nil {
		fs.afterStep(op, p)
	}
}

func (fs *FS) newInode(tx kv.Tx, kind types.InodeKind) (*types.Inode, error) {
	ino, err := allocIno(tx)
	if err != nil {
		return nil, err
	}

	now := fs.clock.Now()
	inode := &types.Inode{
		Ino:       ino,
		Kind:      kind,
		Mtime:     now,
		Birthtime: now,
		Nlink:     1,
	}
	if err := putInode(tx, inode); err != nil {
		return nil, err
	}
	if kind == types.KindFile {
		if err := putContent(tx, ino, []byte{}); err != nil {
			return nil, err
		}
	}
	return inode, nil
}

// lookup returns the inode at p without following symlinks.
func (fs *FS) lookup(tx kv.Tx, p string) (*types.Inode, error) {
	ino, err := lookupIno(tx, p)
	if err != nil {
		return nil, err
	}
	return getInode(tx, ino)
}

// follow resolves a symlink chain to its final inode.
func (fs *FS) follow(tx kv.Tx, inode *types.Inode) (*types.Inode, error) {
	for hops := 0; inode.IsSymlink(); hops++ {
		if hops >= fs.opt.SymlinkHops {
			return nil, types.ELOOP
		}
		rec, err := getSymlink(tx, inode.Ino)
		if err != nil {
			return nil, err
		}
		// a dangling link reports NotFound
		inode, err = getInode(tx, rec.Target)
		if err != nil {
			return nil, err
		}
	}
	return inode, nil
}

func (fs *FS) resolve(tx kv.Tx, p string) (*types.Inode, error) {
	inode, err := fs.lookup(tx, p)
	if err != nil {
		return nil, err
	}
	return fs.follow(tx, inode)
}

// resolveDirPath follows symlinks so children of the final directory can
// be found in the tree table. A link resolves through its target inode,
// whose current path is kept in the record's Abs.
func (fs *FS) resolveDirPath(tx kv.Tx, p string) (string, *types.Inode, error) {
	for hops := 0; ; hops++ {
		inode, err := fs.lookup(tx, p)
		if err != nil {
			return "", nil, err
		}
		if !inode.IsSymlink() {
			if !inode.IsDir() {
				return "", nil, types.ENOTDIR
			}
			return p, inode, nil
		}
		if hops >= fs.opt.SymlinkHops {
			return "", nil, types.ELOOP
		}
		rec, err := getSymlink(tx, inode.Ino)
		if err != nil {
			return "", nil, err
		}
		if _, err := getInode(tx, rec.Target); err != nil {
			return "", nil, err
		}
		if ino, err := lookupIno(tx, rec.Abs); err != nil || ino != rec.Target {
			return "", nil, types.ENOENT
		}
		p = rec.Abs
	}
}

// checkParent verifies the parent of p exists and is a directory.
func (fs *FS) checkParent(tx kv.Tx, p string) error {
	dir, _ := vfs.Split(p)
	parent, err := fs.lookup(tx, dir)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return types.ENOTDIR
	}
	return nil
}

// unlinkPath drops the tree entry at p and releases one link of its inode.
// The last link deletes metadata, content and symlink record.
func (fs *FS) unlinkPath(tx kv.Tx, p string) error {
	ino, err := lookupIno(tx, p)
	if err != nil {
		return err
	}
	if err := tx.Delete(kv.TableTree, []byte(p)); err != nil {
		return err
	}

	inode, err := getInode(tx, ino)
	if err != nil {
		return err
	}
	if inode.Nlink > 1 {
		inode.Nlink--
		return putInode(tx, inode)
	}

	key := inoKey(ino)
	for _, t := range []kv.Table{kv.TableMeta, kv.TableFile, kv.TableSymlink} {
		if err := tx.Delete(t, key); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) Stat(ctx context.Context, p string) (types.FileInfo, error) {
	p, err := vfs.Clean("stat", p)
	if err != nil {
		return types.FileInfo{}, err
	}

	var info types.FileInfo
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		inode, err := fs.resolve(tx, p)
		if err != nil {
			return err
		}
		info = inode.Info()
		return nil
	})
	return info, types.Wrap(err, "stat", p)
}

func (fs *FS) Lstat(ctx context.Context, p string) (types.FileInfo, error) {
	p, err := vfs.Clean("lstat", p)
	if err != nil {
		return types.FileInfo{}, err
	}

	var info types.FileInfo
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		inode, err := fs.lookup(tx, p)
		if err != nil {
			return err
		}
		info = inode.Info()
		return nil
	})
	return info, types.Wrap(err, "lstat", p)
}

// Chmod only checks existence, permissions are not modeled.
func (fs *FS) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	p, err := vfs.Clean("chmod", p)
	if err != nil {
		return err
	}
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		_, err := fs.resolve(tx, p)
		return err
	})
	return types.Wrap(err, "chmod", p)
}

// Chown only checks existence, ownership is not modeled.
func (fs *FS) Chown(ctx context.Context, p string, uid, gid int) error {
	p, err := vfs.Clean("chown", p)
	if err != nil {
		return err
	}
	err = fs.store.View(ctx, func(tx kv.Tx) error {
		_, err := fs.resolve(tx, p)
		return err
	})
	return types.Wrap(err, "chown", p)
}
