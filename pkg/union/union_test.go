package union_test

import (
	"context"
	"errors"
	"testing"

	"github.com/lambertxiao/go-vfs/pkg/handle"
	"github.com/lambertxiao/go-vfs/pkg/inodefs"
	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/nativefs"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/union"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

type RouterTestSuite struct {
	suite.Suite
	ctx      context.Context
	table    *resource.Table
	stores   []kv.Store
	root     *inodefs.FS
	a        *inodefs.FS
	b        *inodefs.FS
	disk     *nativefs.FS
	registry *prometheus.Registry
	router   *union.Router
}

func (s *RouterTestSuite) newInodeFS() *inodefs.FS {
	store, err := kv.OpenLevelMem()
	s.Require().Nil(err)
	s.stores = append(s.stores, store)
	fs, err := inodefs.New(s.ctx, store, s.table, inodefs.Options{})
	s.Require().Nil(err)
	return fs
}

func (s *RouterTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.table = resource.NewTable()
	s.stores = nil
	s.root = s.newInodeFS()
	s.a = s.newInodeFS()
	s.b = s.newInodeFS()

	host, err := handle.NewOSHost(s.T().TempDir(), false)
	s.Require().Nil(err)
	s.disk = nativefs.New(host.Root(), s.table)

	s.registry = prometheus.NewRegistry()
	s.router = union.New(s.root, union.Options{Registerer: s.registry})
	s.Require().Nil(s.router.RegisterDevice("a", s.a))
	s.Require().Nil(s.router.RegisterDevice("b", s.b))
	s.Require().Nil(s.router.RegisterDevice("disk", s.disk))
	s.Require().Nil(s.router.Mount("a", "/mnt/a"))
	s.Require().Nil(s.router.Mount("b", "/mnt/a/b"))
	s.Require().Nil(s.router.Mount("disk", "/disk"))
}

func (s *RouterTestSuite) TearDownTest() {
	s.table.CloseAll()
	for _, store := range s.stores {
		store.Close()
	}
}

func (s *RouterTestSuite) writeFile(fs vfs.FileSystem, p, data string) {
	s.Require().Nil(vfs.WriteFile(s.ctx, fs, p, []byte(data)))
}

func (s *RouterTestSuite) readFile(fs vfs.FileSystem, p string) string {
	data, err := vfs.ReadFile(s.ctx, fs, p)
	s.Require().Nil(err)
	return string(data)
}

func (s *RouterTestSuite) names(p string) []string {
	it, err := s.router.ReadDir(s.ctx, p)
	s.Require().Nil(err)
	entries, err := vfs.ReadDirAll(it)
	s.Require().Nil(err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func (s *RouterTestSuite) TestLongestPrefixResolution() {
	s.Nil(s.router.Mkdir(s.ctx, "/mnt/a/b/c", types.MkdirOptions{}))
	s.writeFile(s.router, "/mnt/a/b/c/file", "deep")

	s.Equal("deep", s.readFile(s.b, "/c/file"))
	_, err := s.a.Stat(s.ctx, "/b/c/file")
	s.True(errors.Is(err, types.ENOENT))

	s.writeFile(s.router, "/mnt/a/top", "top")
	s.Equal("top", s.readFile(s.a, "/top"))

	s.writeFile(s.router, "/plain", "root")
	s.Equal("root", s.readFile(s.root, "/plain"))
}

func (s *RouterTestSuite) TestMountPointIsBackendRoot() {
	info, err := s.router.Stat(s.ctx, "/mnt/a")
	s.Nil(err)
	s.True(info.IsDirectory)
	s.Equal(uint64(types.RootInodeID), info.Ino)

	err = s.router.Mkdir(s.ctx, "/mnt/a", types.MkdirOptions{})
	s.True(errors.Is(err, types.EEXIST))
}

func (s *RouterTestSuite) TestMountErrors() {
	s.True(errors.Is(s.router.Mount("a", "/"), types.EINVAL))
	s.True(errors.Is(s.router.Mount("a", "rel"), types.EINVAL))
	s.True(errors.Is(s.router.Mount("nope", "/x"), types.ENOENT))
	s.True(errors.Is(s.router.Mount("a", "/mnt/a/"), types.EEXIST))
	s.True(errors.Is(s.router.Unmount("/mnt"), types.EINVAL))
	s.True(errors.Is(s.router.RegisterDevice("a", s.a), types.EEXIST))

	s.Equal([]union.MountInfo{
		{Point: "/disk", Device: "disk"},
		{Point: "/mnt/a", Device: "a"},
		{Point: "/mnt/a/b", Device: "b"},
	}, s.router.Mounts())
}

func (s *RouterTestSuite) TestUnmountKeepsBackend() {
	s.writeFile(s.router, "/mnt/a/keep", "x")
	s.Nil(s.router.Unmount("/mnt/a"))

	_, err := s.router.Stat(s.ctx, "/mnt/a/keep")
	s.True(errors.Is(err, types.ENOENT))

	s.Nil(s.router.Mount("a", "/again"))
	s.Equal("x", s.readFile(s.router, "/again/keep"))
}

func (s *RouterTestSuite) TestReadDirMergesMounts() {
	s.writeFile(s.router, "/zeta", "")
	s.Equal([]string{"disk", "mnt", "zeta"}, s.names("/"))
	s.Equal([]string{"a"}, s.names("/mnt"))

	s.writeFile(s.router, "/mnt/a/f", "")
	s.Nil(s.router.Mkdir(s.ctx, "/mnt/a/b2", types.MkdirOptions{}))
	s.Equal([]string{"b", "b2", "f"}, s.names("/mnt/a"))

	// a real directory under a mount point is shadowed, not duplicated
	s.Nil(s.a.Mkdir(s.ctx, "/b", types.MkdirOptions{}))
	s.Equal([]string{"b", "b2", "f"}, s.names("/mnt/a"))

	_, err := s.router.ReadDir(s.ctx, "/nowhere")
	s.True(errors.Is(err, types.ENOENT))
}

func (s *RouterTestSuite) TestSyntheticAncestorStat() {
	info, err := s.router.Stat(s.ctx, "/mnt")
	s.Nil(err)
	s.True(info.IsDirectory)

	info, err = s.router.Lstat(s.ctx, "/mnt")
	s.Nil(err)
	s.True(info.IsDirectory)

	_, err = s.router.Stat(s.ctx, "/mn")
	s.True(errors.Is(err, types.ENOENT))
}

func (s *RouterTestSuite) TestErrorsCarryAbsolutePath() {
	_, err := s.router.Stat(s.ctx, "/mnt/a/b/missing")
	var fe *types.FSError
	s.Require().True(errors.As(err, &fe))
	s.Equal(types.KindNotFound, fe.Kind)
	s.Equal("/mnt/a/b/missing", fe.Path)

	_, err = s.router.Open(s.ctx, "/disk/missing", types.OpenOptions{})
	s.Require().True(errors.As(err, &fe))
	s.Equal("/disk/missing", fe.Path)
}

func (s *RouterTestSuite) TestRemoveMountPoint() {
	err := s.router.Remove(s.ctx, "/mnt/a", types.RemoveOptions{Recursive: true})
	s.True(errors.Is(err, types.EPERM))
	err = s.router.Rename(s.ctx, "/mnt/a", "/elsewhere")
	s.True(errors.Is(err, types.EPERM))
}

func (s *RouterTestSuite) TestRemoveAboveMountPoint() {
	s.Require().Nil(s.root.Mkdir(s.ctx, "/mnt", types.MkdirOptions{}))
	s.writeFile(s.router, "/mnt/a/keep", "k")

	err := s.router.Remove(s.ctx, "/mnt", types.RemoveOptions{Recursive: true})
	s.True(errors.Is(err, types.EPERM))
	err = s.router.Remove(s.ctx, "/mnt", types.RemoveOptions{})
	s.True(errors.Is(err, types.ENOTEMPTY))
	err = s.router.Rename(s.ctx, "/mnt", "/moved")
	s.True(errors.Is(err, types.EPERM))

	info, err := s.root.Stat(s.ctx, "/mnt")
	s.Nil(err)
	s.True(info.IsDirectory)
	s.Equal("k", s.readFile(s.a, "/keep"))
	s.Equal([]string{"a"}, s.names("/mnt"))
}

func (s *RouterTestSuite) TestSameBackendRename() {
	s.writeFile(s.router, "/mnt/a/x", "1")
	s.Nil(s.router.Rename(s.ctx, "/mnt/a/x", "/mnt/a/y"))
	s.Equal("1", s.readFile(s.a, "/y"))
}

func (s *RouterTestSuite) TestCrossBackendRename() {
	s.Nil(s.router.Mkdir(s.ctx, "/src/sub", types.MkdirOptions{Recursive: true}))
	s.writeFile(s.router, "/src/sub/f", "moved")
	s.writeFile(s.router, "/src/top", "t")

	s.Nil(s.router.Rename(s.ctx, "/src", "/disk/dst"))
	s.Equal("moved", s.readFile(s.disk, "/dst/sub/f"))
	s.Equal("t", s.readFile(s.router, "/disk/dst/top"))

	_, err := s.router.Stat(s.ctx, "/src")
	s.True(errors.Is(err, types.ENOENT))

	s.True(errors.Is(s.router.Rename(s.ctx, "/disk", "/disk/in"), types.EPERM))
	s.writeFile(s.router, "/mnt/a/file", "f")
	s.Nil(s.router.Rename(s.ctx, "/mnt/a/file", "/mnt/a/b/file"))
	s.Equal("f", s.readFile(s.b, "/file"))
}

func (s *RouterTestSuite) TestCrossBackendRenameIntoSymlinklessBackend() {
	s.Nil(s.router.Mkdir(s.ctx, "/ln", types.MkdirOptions{}))
	s.writeFile(s.router, "/ln/t", "")
	s.Nil(s.router.Symlink(s.ctx, "/ln/t", "/ln/l"))

	err := s.router.Rename(s.ctx, "/ln", "/disk/ln")
	s.True(errors.Is(err, types.ENOSYS))
	// the source survives a failed copy
	_, err = s.router.Lstat(s.ctx, "/ln/l")
	s.Nil(err)
}

func (s *RouterTestSuite) TestCopyFile() {
	s.writeFile(s.router, "/f", "data")

	s.Nil(s.router.CopyFile(s.ctx, "/f", "/g"))
	s.Equal("data", s.readFile(s.root, "/g"))

	s.Nil(s.router.CopyFile(s.ctx, "/f", "/disk/f"))
	s.Equal("data", s.readFile(s.disk, "/f"))
	s.Equal("data", s.readFile(s.router, "/f"))

	s.Nil(s.router.Mkdir(s.ctx, "/disk/d", types.MkdirOptions{}))
	s.True(errors.Is(s.router.CopyFile(s.ctx, "/f", "/disk/d"), types.EISDIR))
	s.True(errors.Is(s.router.CopyFile(s.ctx, "/disk/d", "/h"), types.EISDIR))
}

func (s *RouterTestSuite) TestLink() {
	s.writeFile(s.router, "/f", "data")

	s.Nil(s.router.Link(s.ctx, "/f", "/hard"))
	info, err := s.router.Stat(s.ctx, "/f")
	s.Nil(err)
	s.Equal(uint32(2), info.Nlink)

	s.Nil(s.router.Link(s.ctx, "/f", "/mnt/a/copy"))
	s.Equal("data", s.readFile(s.a, "/copy"))
	s.True(errors.Is(s.router.Link(s.ctx, "/f", "/mnt/a/copy"), types.EEXIST))

	s.writeFile(s.router, "/disk/n", "")
	s.True(errors.Is(s.router.Link(s.ctx, "/disk/n", "/disk/m"), types.ENOSYS))

	s.Nil(s.router.Mkdir(s.ctx, "/dir", types.MkdirOptions{}))
	s.True(errors.Is(s.router.Link(s.ctx, "/dir", "/disk/dir"), types.ENOSYS))
}

func (s *RouterTestSuite) TestSymlinkTranslation() {
	s.writeFile(s.router, "/mnt/a/target", "t")
	s.Nil(s.router.Symlink(s.ctx, "/mnt/a/target", "/mnt/a/link"))

	target, err := s.router.ReadLink(s.ctx, "/mnt/a/link")
	s.Nil(err)
	s.Equal("/mnt/a/target", target)
	s.Equal("t", s.readFile(s.router, "/mnt/a/link"))

	info, err := s.router.Lstat(s.ctx, "/mnt/a/link")
	s.Nil(err)
	s.True(info.IsSymlink)

	s.True(errors.Is(s.router.Symlink(s.ctx, "/mnt/a/target", "/cross"), types.ENOSYS))
	s.writeFile(s.router, "/disk/t", "")
	s.True(errors.Is(s.router.Symlink(s.ctx, "/disk/t", "/disk/l"), types.ENOSYS))
}

func (s *RouterTestSuite) TestOpsHistogram() {
	_, _ = s.router.Stat(s.ctx, "/mnt/a")
	_, _ = s.router.Stat(s.ctx, "/")

	mfs, err := s.registry.Gather()
	s.Require().Nil(err)

	found := map[string]uint64{}
	for _, mf := range mfs {
		if mf.GetName() != "router_ops_durations_histogram_seconds" {
			continue
		}
		for _, m := range mf.Metric {
			labels := map[string]string{}
			for _, l := range m.Label {
				labels[l.GetName()] = l.GetValue()
			}
			found[labels["backend"]+"/"+labels["method"]] = m.Histogram.GetSampleCount()
		}
	}
	s.Equal(uint64(1), found["a/stat"])
	s.Equal(uint64(1), found["root/stat"])
}
