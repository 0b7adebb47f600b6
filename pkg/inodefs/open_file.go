package inodefs

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

// OpenFile is the handle returned by open. Metadata and content are cached
// for CacheTTL; every mutation goes through to the store before returning.
type OpenFile struct {
	fs     *FS
	rid    int
	path   string
	ino    types.InodeID
	opts   types.OpenOptions
	mutex  sync.Mutex
	offset int64
	closed bool

	meta      *types.Inode
	metaAt    time.Time
	metaDirty bool // 元数据有未落盘的修改

	content   []byte
	contentAt time.Time
}

func newOpenFile(fs *FS, p string, inode *types.Inode, opts types.OpenOptions) *OpenFile {
	return &OpenFile{
		fs:     fs,
		path:   p,
		ino:    inode.Ino,
		opts:   opts,
		meta:   inode,
		metaAt: fs.clock.Now(),
	}
}

func (of *OpenFile) Name() string { return "fsFile" }

func (of *OpenFile) Rid() int { return of.rid }

func (of *OpenFile) expired(at time.Time) bool {
	return of.fs.clock.Since(at) >= of.fs.opt.CacheTTL
}

// inode returns the cached metadata, refetching it once stale. Unflushed
// changes are never dropped by a refetch.
func (of *OpenFile) inode() (*types.Inode, error) {
	if of.meta != nil && (of.metaDirty || !of.expired(of.metaAt)) {
		return of.meta, nil
	}

	var inode *types.Inode
	err := of.fs.store.View(context.Background(), func(tx kv.Tx) error {
		var err error
		inode, err = getInode(tx, of.ino)
		return err
	})
	if err != nil {
		return nil, err
	}
	of.meta = inode
	of.metaAt = of.fs.clock.Now()
	return inode, nil
}

func (of *OpenFile) data() ([]byte, error) {
	if of.content != nil && !of.expired(of.contentAt) {
		return of.content, nil
	}

	var content []byte
	err := of.fs.store.View(context.Background(), func(tx kv.Tx) error {
		var err error
		content, err = getContent(tx, of.ino)
		return err
	})
	if err != nil {
		return nil, err
	}
	of.content = content
	of.contentAt = of.fs.clock.Now()
	return content, nil
}

// setSize records a size change on the cached metadata and marks it dirty.
func (of *OpenFile) setSize(size int) {
	of.meta.Size = uint64(size)
	of.meta.Touch(of.fs.clock.Now())
	of.metaDirty = true
}

// flush persists dirty metadata inside tx.
func (of *OpenFile) flush(tx kv.Tx) error {
	if !of.metaDirty {
		return nil
	}
	if err := putInode(tx, of.meta); err != nil {
		return err
	}
	of.metaDirty = false
	of.metaAt = of.fs.clock.Now()
	return nil
}

// mutate runs fn against fresh metadata and content in one transaction
// and caches the outcome.
func (of *OpenFile) mutate(fn func(content []byte) []byte) (int, error) {
	var next []byte
	err := of.fs.store.Update(context.Background(), func(tx kv.Tx) error {
		inode, err := getInode(tx, of.ino)
		if err != nil {
			return err
		}
		cur, err := getContent(tx, of.ino)
		if err != nil {
			return err
		}

		next = fn(cur)
		if err := putContent(tx, of.ino, next); err != nil {
			return err
		}
		of.meta = inode
		of.setSize(len(next))
		return of.flush(tx)
	})
	if err != nil {
		of.meta = nil
		of.metaDirty = false
		return 0, err
	}

	of.content = next
	of.contentAt = of.fs.clock.Now()
	return len(next), nil
}

func (of *OpenFile) check(op string) error {
	if of.closed {
		return types.Errorf(types.KindBadResource, op, of.path)
	}
	return nil
}

func (of *OpenFile) Read(p []byte) (int, error) {
	of.mutex.Lock()
	defer of.mutex.Unlock()

	if err := of.check("read"); err != nil {
		return 0, err
	}
	if !of.opts.Read {
		return 0, types.Errorf(types.KindPermissionDenied, "read", of.path)
	}
	inode, err := of.inode()
	if err != nil {
		return 0, types.Wrap(err, "read", of.path)
	}
	if inode.IsDir() {
		return 0, types.Errorf(types.KindIsADirectory, "read", of.path)
	}

	content, err := of.data()
	if err != nil {
		return 0, types.Wrap(err, "read", of.path)
	}
	if of.offset >= int64(len(content)) {
		return 0, io.EOF
	}
	n := copy(p, content[of.offset:])
	of.offset += int64(n)
	return n, nil
}

// Write stores p at the current offset. Offset zero replaces the content,
// a later offset keeps the prefix before it and drops anything after, and
// append mode always concatenates.
func (of *OpenFile) Write(p []byte) (int, error) {
	of.mutex.Lock()
	defer of.mutex.Unlock()

	if err := of.check("write"); err != nil {
		return 0, err
	}
	if !of.opts.Writable() {
		return 0, types.Errorf(types.KindPermissionDenied, "write", of.path)
	}

	offset := of.offset
	size, err := of.mutate(func(cur []byte) []byte {
		switch {
		case of.opts.Append:
			return append(cur, p...)
		case offset == 0:
			return append([]byte{}, p...)
		default:
			if offset < int64(len(cur)) {
				cur = cur[:offset]
			}
			return append(cur, p...)
		}
	})
	if err != nil {
		logg.Dlog.Errorf("write path:%s ino:%d err:%v", of.path, of.ino, err)
		return 0, types.Wrap(err, "write", of.path)
	}

	of.offset = int64(size)
	return len(p), nil
}

func (of *OpenFile) Seek(offset int64, whence int) (int64, error) {
	of.mutex.Lock()
	defer of.mutex.Unlock()

	if err := of.check("seek"); err != nil {
		return 0, err
	}

	var pos int64
	switch whence {
	case types.SeekStart:
		pos = offset
	case types.SeekCurrent:
		pos = of.offset + offset
	case types.SeekEnd:
		inode, err := of.inode()
		if err != nil {
			return 0, types.Wrap(err, "seek", of.path)
		}
		pos = int64(inode.Size) + offset
	default:
		return 0, types.Errorf(types.KindInvalidArgument, "seek", of.path)
	}

	if pos < 0 {
		return 0, types.Errorf(types.KindInvalidArgument, "seek", of.path)
	}
	of.offset = pos
	return pos, nil
}

func (of *OpenFile) Stat() (types.FileInfo, error) {
	of.mutex.Lock()
	defer of.mutex.Unlock()

	if err := of.check("stat"); err != nil {
		return types.FileInfo{}, err
	}
	inode, err := of.inode()
	if err != nil {
		return types.FileInfo{}, types.Wrap(err, "stat", of.path)
	}
	return inode.Info(), nil
}

func (of *OpenFile) Truncate(size int64) error {
	of.mutex.Lock()
	defer of.mutex.Unlock()

	if err := of.check("truncate"); err != nil {
		return err
	}
	if !of.opts.Writable() {
		return types.Errorf(types.KindPermissionDenied, "truncate", of.path)
	}
	if size < 0 || size > types.MAX_FILE_SIZE {
		return types.Errorf(types.KindInvalidArgument, "truncate", of.path)
	}

	_, err := of.mutate(func(cur []byte) []byte {
		return resize(cur, int(size))
	})
	return types.Wrap(err, "truncate", of.path)
}

// Sync has nothing to do, every write is already committed.
func (of *OpenFile) Sync() error {
	of.mutex.Lock()
	defer of.mutex.Unlock()
	return of.check("sync")
}

func (of *OpenFile) Datasync() error {
	of.mutex.Lock()
	defer of.mutex.Unlock()
	return of.check("datasync")
}

func (of *OpenFile) Close() error {
	of.mutex.Lock()
	defer of.mutex.Unlock()

	if err := of.check("close"); err != nil {
		return err
	}
	of.closed = true
	of.content = nil
	of.fs.table.Forget(of.rid)
	logg.Dlog.Debugf("close path:%s rid:%d", of.path, of.rid)
	return nil
}
