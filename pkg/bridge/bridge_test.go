package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/inodefs"
	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
)

func TestBridgeBlockSuite(t *testing.T) {
	suite.Run(t, &BridgeTestSuite{mode: WaitBlock})
}

func TestBridgeSpinSuite(t *testing.T) {
	suite.Run(t, &BridgeTestSuite{mode: WaitSpin})
}

// slowFS holds stat and open of /slow until gate is closed.
type slowFS struct {
	vfs.FileSystem
	gate chan struct{}
}

func (s *slowFS) Stat(ctx context.Context, p string) (types.FileInfo, error) {
	if p == "/slow" {
		<-s.gate
		p = "/"
	}
	return s.FileSystem.Stat(ctx, p)
}

func (s *slowFS) Open(ctx context.Context, p string, opts types.OpenOptions) (vfs.File, error) {
	if p == "/slow" {
		<-s.gate
	}
	return s.FileSystem.Open(ctx, p, opts)
}

type BridgeTestSuite struct {
	suite.Suite
	mode string

	ctx         context.Context
	cancel      context.CancelFunc
	store       kv.Store
	workerTable *resource.Table
	clientTable *resource.Table
	fs          *inodefs.FS
	slow        *slowFS
	inbox       chan *Request
	client      *Client
}

func (s *BridgeTestSuite) SetupTest() {
	var err error
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.store, err = kv.OpenLevelMem()
	s.Require().Nil(err)
	s.workerTable = resource.NewTable()
	s.clientTable = resource.NewTable()
	s.fs, err = inodefs.New(s.ctx, s.store, s.workerTable, inodefs.Options{})
	s.Require().Nil(err)
	s.slow = &slowFS{FileSystem: s.fs, gate: make(chan struct{})}

	s.inbox = make(chan *Request)
	go NewWorker(s.slow, s.inbox).Run(s.ctx)
	s.client = s.newClient(Options{Timeout: 2 * time.Second}, s.inbox)
}

func (s *BridgeTestSuite) TearDownTest() {
	select {
	case <-s.slow.gate:
	default:
		close(s.slow.gate)
	}
	s.clientTable.CloseAll()
	s.cancel()
	s.store.Close()
}

func (s *BridgeTestSuite) newClient(opt Options, outbox chan *Request) *Client {
	opt.Wait = s.mode
	c, err := NewClient(outbox, s.clientTable, opt)
	s.Require().Nil(err)
	return c
}

// raw sends a hand built request and waits for its response.
func (s *BridgeTestSuite) raw(op string, args string, seg *Segment) int32 {
	s.inbox <- &Request{ID: "raw", Op: op, Args: []byte(args), Seg: seg}
	waiter, err := NewWaiter(s.mode)
	s.Require().Nil(err)
	n := waiter.Wait(seg, time.Second)
	s.Require().NotEqual(int32(0), n)
	return n
}

func (s *BridgeTestSuite) TestOpenWriteSeekRead() {
	f, err := s.client.Open(s.ctx, "/a.txt", types.OpenOptions{Create: true, Write: true, Read: true})
	s.Require().Nil(err)

	n, err := f.Write([]byte("hi"))
	s.Nil(err)
	s.Equal(2, n)

	pos, err := f.Seek(0, types.SeekStart)
	s.Nil(err)
	s.Equal(int64(0), pos)

	buf := make([]byte, 2)
	n, err = f.Read(buf)
	s.Nil(err)
	s.Equal("hi", string(buf[:n]))
	s.Nil(f.Close())

	info, err := s.client.Stat(s.ctx, "/a.txt")
	s.Nil(err)
	s.True(info.IsFile)
	s.Equal(uint64(2), info.Size)
}

func (s *BridgeTestSuite) TestLengthCellEqualsPayload() {
	seg := NewSegment(4 * 1024)
	n := s.raw("stat", `["/"]`, seg)

	info, err := s.fs.Stat(s.ctx, "/")
	s.Require().Nil(err)
	want, err := json.Marshal(info)
	s.Require().Nil(err)

	s.Equal(int32(len(want)), n)
	s.Equal(n, seg.Header())
	s.Equal(string(want), string(seg.Payload()[:n]))
	// consumed
	s.Equal(int32(0), seg.load())
}

func (s *BridgeTestSuite) TestErrorPayload() {
	seg := NewSegment(4 * 1024)
	n := s.raw("stat", `["/none"]`, seg)
	s.Less(n, int32(0))
	s.Equal(n, seg.Header())

	var ep errorPayload
	s.Require().Nil(json.Unmarshal(seg.Payload()[:-n], &ep))
	s.Equal("NotFound", ep.Kind)
	s.Contains(ep.Message, "stat '/none'")

	n = s.raw("nope", `[]`, seg)
	s.Require().Less(n, int32(0))
	s.True(errors.Is(decodeError(seg.Payload()[:-n]), types.ENOSYS))

	n = s.raw("stat", `["/", 1]`, seg)
	s.Require().Less(n, int32(0))
	s.True(errors.Is(decodeError(seg.Payload()[:-n]), types.EINVAL))
}

func (s *BridgeTestSuite) TestErrorsKeepKind() {
	_, err := s.client.Stat(s.ctx, "/none")
	s.True(errors.Is(err, types.ENOENT))
	s.Contains(err.Error(), "stat '/none'")

	s.Require().Nil(s.client.Mkdir(s.ctx, "/d", types.MkdirOptions{}))
	s.True(errors.Is(s.client.Mkdir(s.ctx, "/d", types.MkdirOptions{}), types.EEXIST))
	s.True(errors.Is(s.client.Link(s.ctx, "/d", "/e"), types.ENOSYS))
}

func (s *BridgeTestSuite) TestFileSystemSurface() {
	s.Require().Nil(s.client.Mkdir(s.ctx, "/a/b", types.MkdirOptions{Recursive: true}))
	s.Require().Nil(vfs.WriteFile(s.ctx, s.client, "/a/f", []byte("data")))

	it, err := s.client.ReadDir(s.ctx, "/a")
	s.Require().Nil(err)
	entries, err := vfs.ReadDirAll(it)
	s.Nil(err)
	s.Equal([]types.DirEntry{
		{Name: "b", IsDirectory: true},
		{Name: "f", IsFile: true},
	}, entries)

	s.Nil(s.client.Rename(s.ctx, "/a/f", "/a/g"))
	s.Nil(s.client.Link(s.ctx, "/a/g", "/a/h"))
	s.Nil(s.client.Symlink(s.ctx, "/a/g", "/a/l"))

	target, err := s.client.ReadLink(s.ctx, "/a/l")
	s.Nil(err)
	s.Equal("/a/g", target)

	info, err := s.client.Lstat(s.ctx, "/a/l")
	s.Nil(err)
	s.True(info.IsSymlink)
	info, err = s.client.Stat(s.ctx, "/a/h")
	s.Nil(err)
	s.Equal(uint32(2), info.Nlink)

	s.Nil(s.client.Truncate(s.ctx, "/a/g", 2))
	s.Nil(s.client.CopyFile(s.ctx, "/a/g", "/c"))
	data, err := vfs.ReadFile(s.ctx, s.client, "/c")
	s.Nil(err)
	s.Equal("da", string(data))

	s.Nil(s.client.Chmod(s.ctx, "/c", 0600))
	s.Nil(s.client.Chown(s.ctx, "/c", 1, 1))
	s.Nil(s.client.Remove(s.ctx, "/a", types.RemoveOptions{Recursive: true}))
	_, err = s.client.Stat(s.ctx, "/a")
	s.True(errors.Is(err, types.ENOENT))

	s.Equal(s.fs.Caps(), s.client.Caps())
}

func (s *BridgeTestSuite) TestFileProxy() {
	f, err := s.client.Create(s.ctx, "/p")
	s.Require().Nil(err)
	s.Equal(1, s.clientTable.Len())
	s.Equal(1, s.workerTable.Len())
	s.GreaterOrEqual(f.(*RemoteFile).RemoteRid(), types.FirstRid)

	_, err = f.Write([]byte("abcdef"))
	s.Nil(err)
	s.Nil(f.Truncate(3))
	s.Nil(f.Sync())
	s.Nil(f.Datasync())

	info, err := f.Stat()
	s.Nil(err)
	s.Equal(uint64(3), info.Size)

	_, err = f.Seek(-1, types.SeekStart)
	s.True(errors.Is(err, types.EINVAL))

	_, err = f.Seek(0, types.SeekStart)
	s.Nil(err)
	data, err := io.ReadAll(f)
	s.Nil(err)
	s.Equal("abc", string(data))

	s.Nil(f.Close())
	s.Equal(0, s.clientTable.Len())
	s.Equal(0, s.workerTable.Len())
	s.True(errors.Is(f.Close(), types.EBADF))
	_, err = f.Read(make([]byte, 1))
	s.True(errors.Is(err, types.EBADF))
}

func (s *BridgeTestSuite) TestReadIsChunkedToSegment() {
	c := s.newClient(Options{SegmentSize: 256}, s.inbox)
	payload := strings.Repeat("0123456789", 100)
	s.Require().Nil(vfs.WriteFile(s.ctx, c, "/big", []byte(payload)))

	data, err := vfs.ReadFile(s.ctx, c, "/big")
	s.Nil(err)
	s.Equal(payload, string(data))
}

func (s *BridgeTestSuite) TestOversizedResponse() {
	c := s.newClient(Options{SegmentSize: 256}, s.inbox)
	for i := 0; i < 32; i++ {
		s.Require().Nil(vfs.WriteFile(s.ctx, c, fmt.Sprintf("/file-%02d", i), nil))
	}

	_, err := c.ReadDir(s.ctx, "/")
	s.True(errors.Is(err, types.EINVAL))
	s.Contains(err.Error(), "exceeds segment")

	// the segment stays usable
	info, err := c.Stat(s.ctx, "/file-00")
	s.Nil(err)
	s.True(info.IsFile)
}

func (s *BridgeTestSuite) TestTimeoutWithoutWorker() {
	c := s.newClient(Options{Timeout: 50 * time.Millisecond}, make(chan *Request))
	_, err := c.Stat(s.ctx, "/")
	s.True(errors.Is(err, types.ETIMEDOUT))
	s.Equal(float64(1), testutil.ToFloat64(c.timeoutCounter.WithLabelValues("stat")))
}

func (s *BridgeTestSuite) TestLateResponseIsNotMisread() {
	c := s.newClient(Options{Timeout: 100 * time.Millisecond}, s.inbox)
	old := c.main.seg

	_, err := c.Stat(s.ctx, "/slow")
	s.True(errors.Is(err, types.ETIMEDOUT))
	s.NotSame(old, c.main.seg)
	s.Equal(float64(1), testutil.ToFloat64(c.timeoutCounter.WithLabelValues("stat")))

	close(s.slow.gate)
	s.Require().Nil(vfs.WriteFile(s.ctx, s.fs, "/fresh", []byte("xyz")))
	info, err := c.Stat(s.ctx, "/fresh")
	s.Nil(err)
	s.Equal(uint64(3), info.Size)
}

func (s *BridgeTestSuite) TestTimedOutOpenReleasesHandle() {
	c := s.newClient(Options{Timeout: 100 * time.Millisecond}, s.inbox)
	before := s.workerTable.Len()

	_, err := c.Open(s.ctx, "/slow", types.OpenOptions{Create: true, Write: true})
	s.True(errors.Is(err, types.ETIMEDOUT))
	close(s.slow.gate)

	// the worker is serial, so this returns after the late open ran
	_, err = s.client.ReadDir(s.ctx, "/")
	s.Require().Nil(err)
	info, err := s.fs.Stat(s.ctx, "/slow")
	s.Nil(err)
	s.True(info.IsFile)

	s.Eventually(func() bool {
		return s.workerTable.Len() == before
	}, 2*time.Second, 10*time.Millisecond)
	s.Equal(0, s.clientTable.Len())
}

func (s *BridgeTestSuite) TestTimeoutErrorCarriesPath() {
	c := s.newClient(Options{Timeout: 50 * time.Millisecond}, make(chan *Request))
	_, err := c.Stat(s.ctx, "/some/where")
	var fe *types.FSError
	s.Require().True(errors.As(err, &fe))
	s.Equal("stat", fe.Op)
	s.Equal("/some/where", fe.Path)
	s.Contains(err.Error(), "/some/where")

	err = c.Symlink(s.ctx, "/target", "/link")
	s.Require().True(errors.As(err, &fe))
	s.Equal("/link", fe.Path)

	c.Close()
	err = c.Mkdir(s.ctx, "/d", types.MkdirOptions{})
	s.True(errors.Is(err, types.EBADF))
	s.Require().True(errors.As(err, &fe))
	s.Equal("/d", fe.Path)
}

func (s *BridgeTestSuite) TestUnknownWaitMode() {
	_, err := NewWaiter("bogus")
	s.True(errors.Is(err, types.EINVAL))

	_, err = NewClient(s.inbox, s.clientTable, Options{Wait: "bogus"})
	s.True(errors.Is(err, types.EINVAL))
}
