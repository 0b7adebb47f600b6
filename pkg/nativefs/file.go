package nativefs

import (
	"context"
	"io"
	"sync"

	"github.com/lambertxiao/go-vfs/pkg/handle"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

// File is an open native file. Every write goes through a writable stream
// that is closed before Write returns.
type File struct {
	fs     *FS
	fh     handle.FileHandle
	rid    int
	path   string
	opts   types.OpenOptions
	isDir  bool
	mutex  sync.Mutex
	offset int64
	closed bool
}

func (f *File) Name() string { return "nativeFile" }

func (f *File) Rid() int { return f.rid }

func (f *File) check(op string, write bool) error {
	if f.closed {
		return types.Errorf(types.KindBadResource, op, f.path)
	}
	if f.isDir {
		return types.Errorf(types.KindIsADirectory, op, f.path)
	}
	if write && !f.opts.Writable() {
		return types.Errorf(types.KindPermissionDenied, op, f.path)
	}
	return nil
}

func (f *File) size(ctx context.Context) (int64, error) {
	blob, err := f.fh.GetFile(ctx)
	if err != nil {
		return 0, err
	}
	defer blob.Close()
	return blob.Size(), nil
}

func (f *File) Read(p []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.check("read", false); err != nil {
		return 0, err
	}
	if !f.opts.Read {
		return 0, types.Errorf(types.KindPermissionDenied, "read", f.path)
	}

	blob, err := f.fh.GetFile(context.Background())
	if err != nil {
		return 0, types.Wrap(err, "read", f.path)
	}
	defer blob.Close()

	if f.offset >= blob.Size() {
		return 0, io.EOF
	}
	n, err := blob.ReadAt(p, f.offset)
	f.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Write at offset zero discards the old content. A later offset keeps the
// prefix up to it; append mode writes at the current end.
func (f *File) Write(p []byte) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.check("write", true); err != nil {
		return 0, err
	}
	ctx := context.Background()

	offset := f.offset
	if f.opts.Append {
		size, err := f.size(ctx)
		if err != nil {
			return 0, types.Wrap(err, "write", f.path)
		}
		offset = size
	}

	w, err := f.fh.CreateWritable(ctx, offset != 0)
	if err != nil {
		return 0, types.Wrap(err, "write", f.path)
	}
	if offset != 0 {
		if err := w.Truncate(offset); err != nil {
			w.Abort()
			return 0, types.Wrap(err, "write", f.path)
		}
		if err := w.Seek(offset); err != nil {
			w.Abort()
			return 0, types.Wrap(err, "write", f.path)
		}
	}
	n, err := w.Write(p)
	if err != nil {
		w.Abort()
		return 0, types.Wrap(err, "write", f.path)
	}
	if err := w.Close(); err != nil {
		return 0, types.Wrap(err, "write", f.path)
	}

	f.offset = offset + int64(n)
	return n, nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.check("seek", false); err != nil {
		return 0, err
	}

	var pos int64
	switch whence {
	case types.SeekStart:
		pos = offset
	case types.SeekCurrent:
		pos = f.offset + offset
	case types.SeekEnd:
		size, err := f.size(context.Background())
		if err != nil {
			return 0, types.Wrap(err, "seek", f.path)
		}
		pos = size + offset
	default:
		return 0, types.Errorf(types.KindInvalidArgument, "seek", f.path)
	}
	if pos < 0 {
		return 0, types.Errorf(types.KindInvalidArgument, "seek", f.path)
	}
	f.offset = pos
	return pos, nil
}

func (f *File) Stat() (types.FileInfo, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return types.FileInfo{}, types.Errorf(types.KindBadResource, "stat", f.path)
	}
	if f.isDir {
		return dirInfo(), nil
	}
	info, err := fileInfo(context.Background(), f.fh)
	return info, types.Wrap(err, "stat", f.path)
}

func (f *File) Truncate(size int64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.check("truncate", true); err != nil {
		return err
	}
	if size < 0 || size > types.MAX_FILE_SIZE {
		return types.Errorf(types.KindInvalidArgument, "truncate", f.path)
	}
	return types.Wrap(truncateHandle(context.Background(), f.fh, size), "truncate", f.path)
}

func (f *File) Sync() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return types.Errorf(types.KindBadResource, "sync", f.path)
	}
	return nil
}

func (f *File) Datasync() error {
	return f.Sync()
}

func (f *File) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.closed {
		return types.Errorf(types.KindBadResource, "close", f.path)
	}
	f.closed = true
	f.fs.table.Forget(f.rid)
	return nil
}
