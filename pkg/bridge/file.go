package bridge

import (
	"context"
	"io"
	"sync"

	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

// RemoteFile proxies the methods of a handle opened on the worker side.
// Calls go to the handle's own port and never touch the router again.
type RemoteFile struct {
	c         *Client
	rid       int
	remoteRid int
	path      string
	conn      *conn

	mutex  sync.Mutex
	closed bool
}

var _ vfs.File = (*RemoteFile)(nil)

func (f *RemoteFile) Name() string { return "remoteFile" }

func (f *RemoteFile) Rid() int { return f.rid }

// RemoteRid is the rid of the handle in the worker's table.
func (f *RemoteFile) RemoteRid() int { return f.remoteRid }

func (f *RemoteFile) call(op string, out interface{}, args ...interface{}) error {
	f.mutex.Lock()
	closed := f.closed
	f.mutex.Unlock()
	if closed {
		return types.Errorf(types.KindBadResource, op, f.path)
	}
	return f.c.call(context.Background(), f.conn, op, f.path, nil, out, args...)
}

// maxRead bounds a single read so the encoded reply fits the segment.
func (f *RemoteFile) maxRead() int {
	n := (f.c.opt.SegmentSize - 64) / 4 * 3
	if n < 1 {
		n = 1
	}
	return n
}

func (f *RemoteFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	want := len(p)
	if max := f.maxRead(); want > max {
		want = max
	}

	var rep readReply
	if err := f.call("read", &rep, want); err != nil {
		return 0, err
	}
	n := copy(p, rep.Data)
	if n == 0 && rep.EOF {
		return 0, io.EOF
	}
	return n, nil
}

func (f *RemoteFile) Write(p []byte) (int, error) {
	var n int
	err := f.call("write", &n, p)
	return n, err
}

func (f *RemoteFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	err := f.call("seek", &pos, offset, whence)
	return pos, err
}

func (f *RemoteFile) Stat() (types.FileInfo, error) {
	var info types.FileInfo
	err := f.call("stat", &info)
	return info, err
}

func (f *RemoteFile) Truncate(size int64) error {
	return f.call("truncate", nil, size)
}

func (f *RemoteFile) Sync() error {
	return f.call("sync", nil)
}

func (f *RemoteFile) Datasync() error {
	return f.call("datasync", nil)
}

// Close closes the worker handle and drops the local rid, also when the
// worker side fails.
func (f *RemoteFile) Close() error {
	f.mutex.Lock()
	if f.closed {
		f.mutex.Unlock()
		return types.Errorf(types.KindBadResource, "close", f.path)
	}
	f.closed = true
	f.mutex.Unlock()
	f.c.table.Forget(f.rid)

	err := f.c.call(context.Background(), f.conn, "close", f.path, nil, nil)

	// consumed or freshly replaced, either way nobody writes it any more
	f.conn.mutex.Lock()
	if f.conn.seg != nil {
		f.conn.seg.release()
		f.conn.seg = nil
	}
	f.conn.mutex.Unlock()
	return err
}
