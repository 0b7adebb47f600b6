package bridge

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
)

type opFunc func(ctx context.Context, w *Worker, req *Request) (interface{}, error)

var ops = map[string]opFunc{
	"open":     opOpen,
	"create":   opCreate,
	"mkdir":    opMkdir,
	"remove":   opRemove,
	"rename":   opRename,
	"link":     opLink,
	"symlink":  opSymlink,
	"readLink": opReadLink,
	"readDir":  opReadDir,
	"stat":     opStat,
	"lstat":    opLstat,
	"truncate": opTruncate,
	"copyFile": opCopyFile,
	"chmod":    opChmod,
	"chown":    opChown,
	"caps":     opCaps,
}

// Worker executes bridged calls against fs. Requests on the inbox are
// served one at a time by Run, each open file is served on its own port.
type Worker struct {
	fs    vfs.FileSystem
	inbox <-chan *Request
}

func NewWorker(fs vfs.FileSystem, inbox <-chan *Request) *Worker {
	return &Worker{fs: fs, inbox: inbox}
}

// Run serves the inbox until ctx is done or the inbox is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-w.inbox:
			if !ok {
				return
			}
			w.serve(ctx, req)
		}
	}
}

func (w *Worker) serve(ctx context.Context, req *Request) {
	if req.Seg == nil {
		logg.Dbridgelog.Errorf("bridge op:%s id:%s has no segment", req.Op, req.ID)
		return
	}

	fn, ok := ops[req.Op]
	if !ok {
		reply(req, nil, &types.FSError{Kind: types.KindNotImplemented, Op: req.Op, Msg: "unknown operation " + req.Op})
		return
	}

	logg.Dbridgelog.Debugf("bridge op:%s id:%s", req.Op, req.ID)
	v, err := fn(ctx, w, req)
	reply(req, v, err)
}

// reply serializes the outcome into the request segment and publishes
// its length.
func reply(req *Request, v interface{}, err error) {
	seg := req.Seg
	var payload []byte
	if err == nil {
		payload, err = json.Marshal(v)
		if err == nil && len(payload) > seg.Cap() {
			err = &types.FSError{
				Kind: types.KindInvalidArgument,
				Op:   req.Op,
				Msg:  fmt.Sprintf("response of %d bytes exceeds segment of %d", len(payload), seg.Cap()),
			}
		}
	}
	if err != nil {
		payload = encodeError(err)
		if len(payload) > seg.Cap() {
			payload = encodeError(types.EINVAL)
		}
		copy(seg.Payload(), payload)
		seg.Publish(-int32(len(payload)))
		return
	}

	copy(seg.Payload(), payload)
	seg.Publish(int32(len(payload)))
}

func (w *Worker) open(ctx context.Context, req *Request, f vfs.File, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if req.Port == nil {
		f.Close()
		return nil, &types.FSError{Kind: types.KindInvalidArgument, Op: req.Op, Msg: "no port for file"}
	}
	go w.serveFile(ctx, f, req.Port)
	return openReply{Rid: f.Rid()}, nil
}

func opOpen(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	var opts types.OpenOptions
	if err := decodeArgs(req.Op, req.Args, &p, &opts); err != nil {
		return nil, err
	}
	f, err := w.fs.Open(ctx, p, opts)
	return w.open(ctx, req, f, err)
}

func opCreate(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	if err := decodeArgs(req.Op, req.Args, &p); err != nil {
		return nil, err
	}
	f, err := w.fs.Create(ctx, p)
	return w.open(ctx, req, f, err)
}

func opMkdir(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	var opts types.MkdirOptions
	if err := decodeArgs(req.Op, req.Args, &p, &opts); err != nil {
		return nil, err
	}
	return nil, w.fs.Mkdir(ctx, p, opts)
}

func opRemove(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	var opts types.RemoveOptions
	if err := decodeArgs(req.Op, req.Args, &p, &opts); err != nil {
		return nil, err
	}
	return nil, w.fs.Remove(ctx, p, opts)
}

func opRename(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var oldpath, newpath string
	if err := decodeArgs(req.Op, req.Args, &oldpath, &newpath); err != nil {
		return nil, err
	}
	return nil, w.fs.Rename(ctx, oldpath, newpath)
}

func opLink(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var oldpath, newpath string
	if err := decodeArgs(req.Op, req.Args, &oldpath, &newpath); err != nil {
		return nil, err
	}
	return nil, w.fs.Link(ctx, oldpath, newpath)
}

func opSymlink(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var target, newpath string
	if err := decodeArgs(req.Op, req.Args, &target, &newpath); err != nil {
		return nil, err
	}
	return nil, w.fs.Symlink(ctx, target, newpath)
}

func opReadLink(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	if err := decodeArgs(req.Op, req.Args, &p); err != nil {
		return nil, err
	}
	return w.fs.ReadLink(ctx, p)
}

func opReadDir(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	if err := decodeArgs(req.Op, req.Args, &p); err != nil {
		return nil, err
	}
	it, err := w.fs.ReadDir(ctx, p)
	if err != nil {
		return nil, err
	}
	return vfs.ReadDirAll(it)
}

func opStat(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	if err := decodeArgs(req.Op, req.Args, &p); err != nil {
		return nil, err
	}
	return w.fs.Stat(ctx, p)
}

func opLstat(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	if err := decodeArgs(req.Op, req.Args, &p); err != nil {
		return nil, err
	}
	return w.fs.Lstat(ctx, p)
}

func opTruncate(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	var size int64
	if err := decodeArgs(req.Op, req.Args, &p, &size); err != nil {
		return nil, err
	}
	return nil, w.fs.Truncate(ctx, p, size)
}

func opCopyFile(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var src, dst string
	if err := decodeArgs(req.Op, req.Args, &src, &dst); err != nil {
		return nil, err
	}
	return nil, w.fs.CopyFile(ctx, src, dst)
}

func opChmod(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	var mode os.FileMode
	if err := decodeArgs(req.Op, req.Args, &p, &mode); err != nil {
		return nil, err
	}
	return nil, w.fs.Chmod(ctx, p, mode)
}

func opChown(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	var p string
	var uid, gid int
	if err := decodeArgs(req.Op, req.Args, &p, &uid, &gid); err != nil {
		return nil, err
	}
	return nil, w.fs.Chown(ctx, p, uid, gid)
}

func opCaps(ctx context.Context, w *Worker, req *Request) (interface{}, error) {
	return uint32(w.fs.Caps()), nil
}

// serveFile answers the handle methods sent on port until the handle is
// closed, the port is closed or ctx is done.
func (w *Worker) serveFile(ctx context.Context, f vfs.File, port <-chan *Request) {
	defer func() {
		// close 之后的重复关闭返回 EBADF，忽略
		_ = f.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-port:
			if !ok {
				return
			}
			if req.Seg == nil {
				logg.Dbridgelog.Errorf("bridge file op:%s rid:%d has no segment", req.Op, f.Rid())
				continue
			}
			v, err := fileOp(f, req)
			reply(req, v, err)
			if req.Op == "close" && err == nil {
				return
			}
		}
	}
}

func fileOp(f vfs.File, req *Request) (interface{}, error) {
	switch req.Op {
	case "read":
		var n int
		if err := decodeArgs(req.Op, req.Args, &n); err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, types.Errorf(types.KindInvalidArgument, "read", "")
		}
		buf := make([]byte, n)
		got, err := f.Read(buf)
		if err == io.EOF {
			return readReply{Data: buf[:got], EOF: true}, nil
		}
		if err != nil {
			return nil, err
		}
		return readReply{Data: buf[:got]}, nil
	case "write":
		var data []byte
		if err := decodeArgs(req.Op, req.Args, &data); err != nil {
			return nil, err
		}
		return f.Write(data)
	case "seek":
		var offset int64
		var whence int
		if err := decodeArgs(req.Op, req.Args, &offset, &whence); err != nil {
			return nil, err
		}
		return f.Seek(offset, whence)
	case "stat":
		return f.Stat()
	case "truncate":
		var size int64
		if err := decodeArgs(req.Op, req.Args, &size); err != nil {
			return nil, err
		}
		return nil, f.Truncate(size)
	case "sync":
		return nil, f.Sync()
	case "datasync":
		return nil, f.Datasync()
	case "close":
		return nil, f.Close()
	}
	return nil, &types.FSError{Kind: types.KindNotImplemented, Op: req.Op, Msg: "unknown file operation " + req.Op}
}
