package bridge

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

type Options struct {
	Timeout     time.Duration
	Wait        string
	SegmentSize int
	Registerer  prometheus.Registerer
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = types.DEFAULT_BRIDGE_TIMEOUT
	}
	if o.Wait == "" {
		o.Wait = types.DEFAULT_BRIDGE_WAIT
	}
	if o.SegmentSize <= 0 {
		o.SegmentSize = types.DEFAULT_SEGMENT_SIZE
	}
	return o
}

// conn is one request channel with its segment. Calls on a conn are
// serialized, the segment is reused only once its response was consumed.
type conn struct {
	mutex sync.Mutex
	ch    chan<- *Request
	seg   *Segment
}

// Client is the synchronous side of the bridge. It implements
// vfs.FileSystem by forwarding every call to a Worker and blocking on the
// response segment.
type Client struct {
	main   *conn
	table  *resource.Table
	waiter Waiter
	opt    Options

	capsOnce sync.Once
	caps     vfs.Caps

	roundTripHistogram *prometheus.HistogramVec
	timeoutCounter     *prometheus.CounterVec
}

var _ vfs.FileSystem = (*Client)(nil)

func NewClient(outbox chan<- *Request, table *resource.Table, opt Options) (*Client, error) {
	opt = opt.withDefaults()
	waiter, err := NewWaiter(opt.Wait)
	if err != nil {
		return nil, err
	}

	c := &Client{
		main:   &conn{ch: outbox, seg: NewSegment(opt.SegmentSize)},
		table:  table,
		waiter: waiter,
		opt:    opt,
	}
	c.initMetrics(opt.Registerer)
	return c, nil
}

func (c *Client) initMetrics(reg prometheus.Registerer) {
	c.roundTripHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_round_trip_histogram_seconds",
		Help:    "Bridge call latency distributions.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 1.5, 30),
	}, []string{"method"})
	c.timeoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_timeouts",
		Help: "Bridge calls without a response in time.",
	}, []string{"method"})

	if reg == nil {
		return
	}
	reg.MustRegister(c.roundTripHistogram)
	reg.MustRegister(c.timeoutCounter)
}

// call sends op on cn and decodes the response into out. port is handed
// to the worker along with the request. p only labels errors raised on
// this side of the bridge.
func (c *Client) call(ctx context.Context, cn *conn, op, p string, port chan *Request, out interface{}, args ...interface{}) error {
	raw, err := encodeArgs(args...)
	if err != nil {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: op, Path: p, Msg: err.Error()}
	}

	cn.mutex.Lock()
	defer cn.mutex.Unlock()
	if cn.seg == nil {
		return &types.FSError{Kind: types.KindBadResource, Op: op, Path: p, Msg: "bridge closed"}
	}

	st := time.Now()
	defer func() {
		c.roundTripHistogram.WithLabelValues(op).Observe(time.Since(st).Seconds())
	}()

	req := &Request{
		ID:   uuid.NewString(),
		Op:   op,
		Args: raw,
		Seg:  cn.seg,
		Port: port,
	}

	timer := time.NewTimer(c.opt.Timeout)
	select {
	case cn.ch <- req:
		timer.Stop()
	case <-timer.C:
		c.timeoutCounter.WithLabelValues(op).Inc()
		return &types.FSError{Kind: types.KindTimeout, Op: op, Path: p, Msg: "worker not accepting requests"}
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	n := c.waiter.Wait(cn.seg, c.opt.Timeout)
	if n == 0 {
		c.timeoutCounter.WithLabelValues(op).Inc()
		logg.Dbridgelog.Errorf("bridge op:%s id:%s timeout after %s", op, req.ID, c.opt.Timeout)
		// the worker may still answer into the old segment
		cn.seg = NewSegment(c.opt.SegmentSize)
		return &types.FSError{Kind: types.KindTimeout, Op: op, Path: p, Msg: "no response in " + c.opt.Timeout.String()}
	}

	if n < 0 {
		return decodeError(cn.seg.Payload()[:-n])
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(cn.seg.Payload()[:n], out); err != nil {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: op, Path: p, Msg: "bad response: " + err.Error()}
	}
	return nil
}

// Close releases the segments of the client. Open files keep their own.
func (c *Client) Close() {
	c.main.mutex.Lock()
	defer c.main.mutex.Unlock()
	if c.main.seg != nil {
		c.main.seg.release()
		c.main.seg = nil
	}
}

func (c *Client) Caps() vfs.Caps {
	c.capsOnce.Do(func() {
		var caps uint32
		if err := c.call(context.Background(), c.main, "caps", "", nil, &caps); err != nil {
			logg.Dbridgelog.Errorf("bridge caps: %v", err)
			return
		}
		c.caps = vfs.Caps(caps)
	})
	return c.caps
}

func (c *Client) open(ctx context.Context, op, p string, args ...interface{}) (vfs.File, error) {
	port := make(chan *Request)
	var rep openReply
	if err := c.call(ctx, c.main, op, p, port, &rep, args...); err != nil {
		// a late worker finds the port closed and releases the handle
		close(port)
		return nil, err
	}

	f := &RemoteFile{
		c:         c,
		path:      p,
		remoteRid: rep.Rid,
		conn:      &conn{ch: port, seg: NewSegment(c.opt.SegmentSize)},
	}
	f.rid = c.table.Add(f)
	return f, nil
}

func (c *Client) Open(ctx context.Context, p string, opts types.OpenOptions) (vfs.File, error) {
	return c.open(ctx, "open", p, p, opts)
}

func (c *Client) Create(ctx context.Context, p string) (vfs.File, error) {
	return c.open(ctx, "create", p, p)
}

func (c *Client) Mkdir(ctx context.Context, p string, opts types.MkdirOptions) error {
	return c.call(ctx, c.main, "mkdir", p, nil, nil, p, opts)
}

func (c *Client) Remove(ctx context.Context, p string, opts types.RemoveOptions) error {
	return c.call(ctx, c.main, "remove", p, nil, nil, p, opts)
}

func (c *Client) Rename(ctx context.Context, oldpath, newpath string) error {
	return c.call(ctx, c.main, "rename", oldpath, nil, nil, oldpath, newpath)
}

func (c *Client) Link(ctx context.Context, oldpath, newpath string) error {
	return c.call(ctx, c.main, "link", oldpath, nil, nil, oldpath, newpath)
}

func (c *Client) Symlink(ctx context.Context, target, newpath string) error {
	return c.call(ctx, c.main, "symlink", newpath, nil, nil, target, newpath)
}

func (c *Client) ReadLink(ctx context.Context, p string) (string, error) {
	var target string
	err := c.call(ctx, c.main, "readLink", p, nil, &target, p)
	return target, err
}

// ReadDir fetches the whole listing in one call.
func (c *Client) ReadDir(ctx context.Context, p string) (vfs.DirIterator, error) {
	var entries []types.DirEntry
	if err := c.call(ctx, c.main, "readDir", p, nil, &entries, p); err != nil {
		return nil, err
	}
	return vfs.NewSliceIterator(entries), nil
}

func (c *Client) Stat(ctx context.Context, p string) (types.FileInfo, error) {
	var info types.FileInfo
	err := c.call(ctx, c.main, "stat", p, nil, &info, p)
	return info, err
}

func (c *Client) Lstat(ctx context.Context, p string) (types.FileInfo, error) {
	var info types.FileInfo
	err := c.call(ctx, c.main, "lstat", p, nil, &info, p)
	return info, err
}

func (c *Client) Truncate(ctx context.Context, p string, size int64) error {
	return c.call(ctx, c.main, "truncate", p, nil, nil, p, size)
}

func (c *Client) CopyFile(ctx context.Context, src, dst string) error {
	return c.call(ctx, c.main, "copyFile", src, nil, nil, src, dst)
}

func (c *Client) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	return c.call(ctx, c.main, "chmod", p, nil, nil, p, mode)
}

func (c *Client) Chown(ctx context.Context, p string, uid, gid int) error {
	return c.call(ctx, c.main, "chown", p, nil, nil, p, uid, gid)
}
