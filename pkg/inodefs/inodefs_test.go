package inodefs_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lambertxiao/go-vfs/pkg/inodefs"
	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"github.com/stretchr/testify/suite"
)

func TestInodeFSTestSuite(t *testing.T) {
	suite.Run(t, new(InodeFSTestSuite))
}

type InodeFSTestSuite struct {
	suite.Suite
	ctx   context.Context
	store kv.Store
	table *resource.Table
	clock clockwork.FakeClock
	fs    *inodefs.FS
}

func (s *InodeFSTestSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.store, err = kv.OpenLevelMem()
	s.Require().Nil(err)
	s.table = resource.NewTable()
	s.clock = clockwork.NewFakeClock()
	s.fs, err = inodefs.New(s.ctx, s.store, s.table, inodefs.Options{
		CacheTTL:    100 * time.Millisecond,
		SymlinkHops: 4,
		Clock:       s.clock,
	})
	s.Require().Nil(err)
}

func (s *InodeFSTestSuite) TearDownTest() {
	s.table.CloseAll()
	s.store.Close()
}

func (s *InodeFSTestSuite) writeFile(p, data string) {
	s.Require().Nil(vfs.WriteFile(s.ctx, s.fs, p, []byte(data)))
}

func (s *InodeFSTestSuite) readFile(p string) string {
	data, err := vfs.ReadFile(s.ctx, s.fs, p)
	s.Require().Nil(err)
	return string(data)
}

func (s *InodeFSTestSuite) names(p string) []string {
	it, err := s.fs.ReadDir(s.ctx, p)
	s.Require().Nil(err)
	entries, err := vfs.ReadDirAll(it)
	s.Require().Nil(err)

	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}

func (s *InodeFSTestSuite) TestRootExists() {
	info, err := s.fs.Stat(s.ctx, "/")
	s.Nil(err)
	s.True(info.IsDirectory)
	s.Equal(uint64(types.RootInodeID), info.Ino)

	// reopening keeps the same root
	again, err := inodefs.New(s.ctx, s.store, s.table, inodefs.Options{Clock: s.clock})
	s.Nil(err)
	info, err = again.Stat(s.ctx, "/")
	s.Nil(err)
	s.Equal(uint64(types.RootInodeID), info.Ino)
}

func (s *InodeFSTestSuite) TestWriteReadRoundTrip() {
	f, err := s.fs.Create(s.ctx, "/a.txt")
	s.Require().Nil(err)
	s.GreaterOrEqual(f.Rid(), types.FirstRid)

	n, err := f.Write([]byte("hello world"))
	s.Nil(err)
	s.Equal(11, n)

	pos, err := f.Seek(0, types.SeekStart)
	s.Nil(err)
	s.Equal(int64(0), pos)

	data, err := io.ReadAll(f)
	s.Nil(err)
	s.Equal("hello world", string(data))

	n, err = f.Read(make([]byte, 4))
	s.Equal(0, n)
	s.Equal(io.EOF, err)
	s.Nil(f.Close())

	info, err := s.fs.Stat(s.ctx, "/a.txt")
	s.Nil(err)
	s.True(info.IsFile)
	s.Equal(uint64(11), info.Size)
}

func (s *InodeFSTestSuite) TestWriteOffsetSemantics() {
	s.writeFile("/f", "abcdef")

	f, err := s.fs.Open(s.ctx, "/f", types.OpenOptions{Read: true, Write: true})
	s.Require().Nil(err)
	defer f.Close()

	// overwrite at offset 0 replaces everything
	_, err = f.Write([]byte("xy"))
	s.Nil(err)
	s.Equal("xy", s.readFile("/f"))

	// offset past the end keeps no gap
	_, err = f.Seek(10, types.SeekStart)
	s.Nil(err)
	_, err = f.Write([]byte("zz"))
	s.Nil(err)
	s.Equal("xyzz", s.readFile("/f"))

	// mid-content write drops the tail
	_, err = f.Seek(1, types.SeekStart)
	s.Nil(err)
	_, err = f.Write([]byte("Q"))
	s.Nil(err)
	s.Equal("xQ", s.readFile("/f"))

	pos, err := f.Seek(0, types.SeekCurrent)
	s.Nil(err)
	s.Equal(int64(2), pos)
}

func (s *InodeFSTestSuite) TestAppendIgnoresOffset() {
	s.writeFile("/log", "one")

	f, err := s.fs.Open(s.ctx, "/log", types.OpenOptions{Append: true})
	s.Require().Nil(err)
	_, err = f.Seek(0, types.SeekStart)
	s.Nil(err)
	_, err = f.Write([]byte("two"))
	s.Nil(err)
	s.Nil(f.Close())

	s.Equal("onetwo", s.readFile("/log"))
}

func (s *InodeFSTestSuite) TestOpenErrors() {
	_, err := s.fs.Open(s.ctx, "/missing", types.OpenOptions{Read: true})
	s.True(errors.Is(err, types.ENOENT))
	s.Contains(err.Error(), "open '/missing'")

	s.writeFile("/exists", "x")
	_, err = s.fs.Open(s.ctx, "/exists", types.OpenOptions{Write: true, CreateNew: true})
	s.True(errors.Is(err, types.EEXIST))

	s.Nil(s.fs.Mkdir(s.ctx, "/dir", types.MkdirOptions{}))
	for _, opts := range []types.OpenOptions{{Write: true}, {Append: true}, {Read: true, Truncate: true}} {
		_, err = s.fs.Open(s.ctx, "/dir", opts)
		s.True(errors.Is(err, types.EISDIR), "%+v", opts)
	}

	_, err = s.fs.Open(s.ctx, "/nodir/file", types.OpenOptions{Write: true, Create: true})
	s.True(errors.Is(err, types.ENOENT))

	_, err = s.fs.Open(s.ctx, "relative", types.OpenOptions{})
	s.True(errors.Is(err, types.EINVAL))
}

func (s *InodeFSTestSuite) TestOpenTruncateTouchesMtime() {
	s.writeFile("/t", "content")
	before, err := s.fs.Stat(s.ctx, "/t")
	s.Require().Nil(err)

	s.clock.Advance(time.Second)
	f, err := s.fs.Open(s.ctx, "/t", types.OpenOptions{Write: true, Truncate: true})
	s.Require().Nil(err)
	s.Nil(f.Close())

	after, err := s.fs.Stat(s.ctx, "/t")
	s.Nil(err)
	s.Equal(uint64(0), after.Size)
	s.True(after.Mtime.After(before.Mtime))
	s.Equal(before.Birthtime, after.Birthtime)
}

func (s *InodeFSTestSuite) TestHandlePermissions() {
	s.writeFile("/ro", "data")

	f, err := s.fs.Open(s.ctx, "/ro", types.OpenOptions{Read: true})
	s.Require().Nil(err)
	_, err = f.Write([]byte("x"))
	s.True(errors.Is(err, types.EPERM))
	s.True(errors.Is(f.Truncate(0), types.EPERM))

	_, err = f.Seek(-1, types.SeekStart)
	s.True(errors.Is(err, types.EINVAL))

	s.Nil(f.Close())
	s.True(errors.Is(f.Close(), types.EBADF))
	_, err = f.Read(make([]byte, 1))
	s.True(errors.Is(err, types.EBADF))
	s.Equal(0, s.table.Len())
}

func (s *InodeFSTestSuite) TestHandleCacheExpires() {
	s.writeFile("/c", "old")

	reader, err := s.fs.Open(s.ctx, "/c", types.OpenOptions{Read: true})
	s.Require().Nil(err)
	defer reader.Close()
	buf := make([]byte, 16)
	n, err := reader.Read(buf)
	s.Nil(err)
	s.Equal("old", string(buf[:n]))

	s.writeFile("/c", "newer")

	// still served from the cache
	info, err := reader.Stat()
	s.Nil(err)
	s.Equal(uint64(3), info.Size)

	s.clock.Advance(150 * time.Millisecond)
	info, err = reader.Stat()
	s.Nil(err)
	s.Equal(uint64(5), info.Size)

	_, err = reader.Seek(0, types.SeekStart)
	s.Nil(err)
	n, err = reader.Read(buf)
	s.Nil(err)
	s.Equal("newer", string(buf[:n]))
}

func (s *InodeFSTestSuite) TestHandleTruncate() {
	f, err := s.fs.Create(s.ctx, "/h")
	s.Require().Nil(err)
	defer f.Close()

	_, err = f.Write([]byte("abcdef"))
	s.Nil(err)
	s.Nil(f.Truncate(2))
	info, err := f.Stat()
	s.Nil(err)
	s.Equal(uint64(2), info.Size)
	s.Nil(f.Sync())
	s.Nil(f.Datasync())

	s.Nil(s.fs.Truncate(s.ctx, "/h", 4))
	s.Equal("ab\x00\x00", s.readFile("/h"))
	s.True(errors.Is(s.fs.Truncate(s.ctx, "/h", -1), types.EINVAL))
}

func (s *InodeFSTestSuite) TestTruncateBeyondMaxSize() {
	s.writeFile("/big", "abc")
	s.True(errors.Is(s.fs.Truncate(s.ctx, "/big", 1<<62), types.EINVAL))
	s.True(errors.Is(s.fs.Truncate(s.ctx, "/big", types.MAX_FILE_SIZE+1), types.EINVAL))

	f, err := s.fs.Open(s.ctx, "/big", types.OpenOptions{Write: true})
	s.Require().Nil(err)
	defer f.Close()
	s.True(errors.Is(f.Truncate(1<<62), types.EINVAL))

	s.Equal("abc", s.readFile("/big"))
}

func (s *InodeFSTestSuite) TestMkdir() {
	s.Nil(s.fs.Mkdir(s.ctx, "/a", types.MkdirOptions{}))
	s.True(errors.Is(s.fs.Mkdir(s.ctx, "/a", types.MkdirOptions{}), types.EEXIST))
	s.True(errors.Is(s.fs.Mkdir(s.ctx, "/x/y", types.MkdirOptions{}), types.ENOENT))

	s.writeFile("/file", "")
	s.True(errors.Is(s.fs.Mkdir(s.ctx, "/file/sub", types.MkdirOptions{}), types.ENOTDIR))
	s.True(errors.Is(s.fs.Mkdir(s.ctx, "/file/sub", types.MkdirOptions{Recursive: true}), types.ENOTDIR))
}

func (s *InodeFSTestSuite) TestMkdirRecursive() {
	steps := []string{}
	s.fs.SetStepHook(func(op, p string) {
		steps = append(steps, op+" "+p)
	})

	s.Nil(s.fs.Mkdir(s.ctx, "/a/b/c", types.MkdirOptions{Recursive: true}))
	s.Equal([]string{"mkdir /a", "mkdir /a/b", "mkdir /a/b/c"}, steps)

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := s.fs.Stat(s.ctx, p)
		s.Nil(err)
		s.True(info.IsDirectory)
	}

	before, err := s.fs.Stat(s.ctx, "/a")
	s.Require().Nil(err)
	err = s.fs.Mkdir(s.ctx, "/a/b/c", types.MkdirOptions{Recursive: true})
	s.True(errors.Is(err, types.EEXIST))
	after, err := s.fs.Stat(s.ctx, "/a")
	s.Nil(err)
	s.Equal(before, after)
}

func (s *InodeFSTestSuite) TestMkdirRecursiveToleratesConcurrentCreate() {
	s.fs.SetStepHook(func(op, p string) {
		if p == "/a" {
			// another writer wins the race for the next level
			s.Nil(s.fs.Mkdir(s.ctx, "/a/b", types.MkdirOptions{}))
		}
	})
	s.Nil(s.fs.Mkdir(s.ctx, "/a/b/c", types.MkdirOptions{Recursive: true}))
	s.Equal([]string{"c"}, s.names("/a/b"))
}

func (s *InodeFSTestSuite) TestRemove() {
	s.Nil(s.fs.Mkdir(s.ctx, "/d", types.MkdirOptions{}))
	s.writeFile("/d/f", "x")

	err := s.fs.Remove(s.ctx, "/d", types.RemoveOptions{})
	s.True(errors.Is(err, types.ENOTEMPTY))
	s.Nil(s.fs.Remove(s.ctx, "/d/f", types.RemoveOptions{}))
	s.Nil(s.fs.Remove(s.ctx, "/d", types.RemoveOptions{}))

	_, err = s.fs.Stat(s.ctx, "/d")
	s.True(errors.Is(err, types.ENOENT))
	s.True(errors.Is(s.fs.Remove(s.ctx, "/d", types.RemoveOptions{}), types.ENOENT))
	s.True(errors.Is(s.fs.Remove(s.ctx, "/", types.RemoveOptions{}), types.EPERM))
}

func (s *InodeFSTestSuite) TestRemoveRecursiveDeepestFirst() {
	s.Nil(s.fs.Mkdir(s.ctx, "/r/a/b", types.MkdirOptions{Recursive: true}))
	s.writeFile("/r/a/b/f", "1")
	s.writeFile("/r/top", "2")

	steps := []string{}
	s.fs.SetStepHook(func(op, p string) {
		if op == "remove" {
			steps = append(steps, p)
		}
	})
	s.Nil(s.fs.Remove(s.ctx, "/r", types.RemoveOptions{Recursive: true}))
	s.Equal([]string{"/r/top", "/r/a/b/f", "/r/a/b", "/r/a"}, steps)
	s.Equal([]string{}, s.names("/"))
}

func (s *InodeFSTestSuite) TestRemoveRecursiveRacingCreate() {
	s.Nil(s.fs.Mkdir(s.ctx, "/r", types.MkdirOptions{}))
	s.writeFile("/r/f", "1")

	s.fs.SetStepHook(func(op, p string) {
		if p == "/r/f" {
			s.writeFile("/r/late", "2")
		}
	})
	err := s.fs.Remove(s.ctx, "/r", types.RemoveOptions{Recursive: true})
	s.True(errors.Is(err, types.ENOTEMPTY))
	s.Equal([]string{"late"}, s.names("/r"))
}

func (s *InodeFSTestSuite) TestHardLinkReclaim() {
	s.writeFile("/orig", "shared")
	s.Nil(s.fs.Link(s.ctx, "/orig", "/alias"))

	info, err := s.fs.Stat(s.ctx, "/alias")
	s.Require().Nil(err)
	s.Equal(uint32(2), info.Nlink)
	ino := types.InodeID(info.Ino)
	s.Equal("shared", s.readFile("/alias"))

	s.Nil(s.fs.Remove(s.ctx, "/orig", types.RemoveOptions{}))
	info, err = s.fs.Stat(s.ctx, "/alias")
	s.Nil(err)
	s.Equal(uint32(1), info.Nlink)
	records, err := s.fs.Records(s.ctx, ino)
	s.Nil(err)
	s.True(records[kv.TableMeta])
	s.True(records[kv.TableFile])

	s.Nil(s.fs.Remove(s.ctx, "/alias", types.RemoveOptions{}))
	records, err = s.fs.Records(s.ctx, ino)
	s.Nil(err)
	s.Empty(records)
}

func (s *InodeFSTestSuite) TestLinkErrors() {
	s.Nil(s.fs.Mkdir(s.ctx, "/d", types.MkdirOptions{}))
	s.writeFile("/f", "")

	s.True(errors.Is(s.fs.Link(s.ctx, "/d", "/d2"), types.ENOSYS))
	s.True(errors.Is(s.fs.Link(s.ctx, "/f", "/d"), types.EEXIST))
	s.True(errors.Is(s.fs.Link(s.ctx, "/none", "/x"), types.ENOENT))
}

func (s *InodeFSTestSuite) TestSymlink() {
	s.Nil(s.fs.Mkdir(s.ctx, "/dir", types.MkdirOptions{}))
	s.writeFile("/dir/target", "payload")

	s.Nil(s.fs.Symlink(s.ctx, "target", "/dir/link"))
	s.Nil(s.fs.Symlink(s.ctx, "/dir", "/dlink"))

	target, err := s.fs.ReadLink(s.ctx, "/dir/link")
	s.Nil(err)
	s.Equal("target", target)

	info, err := s.fs.Stat(s.ctx, "/dir/link")
	s.Nil(err)
	s.True(info.IsFile)
	s.Equal(uint64(7), info.Size)

	info, err = s.fs.Lstat(s.ctx, "/dir/link")
	s.Nil(err)
	s.True(info.IsSymlink)

	s.Equal("payload", s.readFile("/dir/link"))
	s.ElementsMatch([]string{"target", "link"}, s.names("/dlink"))

	_, err = s.fs.ReadLink(s.ctx, "/dir/target")
	s.True(errors.Is(err, types.EINVAL))
	s.True(errors.Is(s.fs.Symlink(s.ctx, "/nowhere", "/bad"), types.ENOENT))
}

func (s *InodeFSTestSuite) TestDanglingSymlink() {
	s.writeFile("/t", "x")
	s.Nil(s.fs.Symlink(s.ctx, "/t", "/l"))
	s.Nil(s.fs.Remove(s.ctx, "/t", types.RemoveOptions{}))

	_, err := s.fs.Stat(s.ctx, "/l")
	s.True(errors.Is(err, types.ENOENT))
	_, err = s.fs.Lstat(s.ctx, "/l")
	s.Nil(err)
	s.Nil(s.fs.Remove(s.ctx, "/l", types.RemoveOptions{}))
}

func (s *InodeFSTestSuite) TestDirSymlinkSurvivesRename() {
	s.Nil(s.fs.Mkdir(s.ctx, "/d/sub", types.MkdirOptions{Recursive: true}))
	s.writeFile("/d/f", "1")
	s.Nil(s.fs.Symlink(s.ctx, "/d", "/l"))
	s.Nil(s.fs.Symlink(s.ctx, "/d/sub", "/lsub"))

	s.Nil(s.fs.Rename(s.ctx, "/d", "/e"))

	info, err := s.fs.Stat(s.ctx, "/l")
	s.Nil(err)
	s.True(info.IsDirectory)
	s.ElementsMatch([]string{"f", "sub"}, s.names("/l"))
	s.Equal([]string{}, s.names("/lsub"))

	target, err := s.fs.ReadLink(s.ctx, "/l")
	s.Nil(err)
	s.Equal("/d", target)

	// a new directory at the old path is not the link's target
	s.Nil(s.fs.Mkdir(s.ctx, "/d", types.MkdirOptions{}))
	s.ElementsMatch([]string{"f", "sub"}, s.names("/l"))

	s.Nil(s.fs.Remove(s.ctx, "/e", types.RemoveOptions{Recursive: true}))
	_, err = s.fs.Stat(s.ctx, "/l")
	s.True(errors.Is(err, types.ENOENT))
	_, err = s.fs.ReadDir(s.ctx, "/l")
	s.True(errors.Is(err, types.ENOENT))
}

func (s *InodeFSTestSuite) TestSymlinkHopBudget() {
	s.writeFile("/l0", "end")
	for i := 1; i <= 5; i++ {
		s.Nil(s.fs.Symlink(s.ctx, fmt.Sprintf("/l%d", i-1), fmt.Sprintf("/l%d", i)))
	}

	_, err := s.fs.Stat(s.ctx, "/l4")
	s.Nil(err)
	_, err = s.fs.Stat(s.ctx, "/l5")
	s.True(errors.Is(err, types.ELOOP))
}

func (s *InodeFSTestSuite) TestRenameMovesSubtree() {
	s.Nil(s.fs.Mkdir(s.ctx, "/src/sub", types.MkdirOptions{Recursive: true}))
	s.writeFile("/src/sub/f", "deep")
	s.writeFile("/srcfile", "sibling")

	s.Nil(s.fs.Rename(s.ctx, "/src", "/dst"))
	s.Equal("deep", s.readFile("/dst/sub/f"))
	s.Equal("sibling", s.readFile("/srcfile"))

	_, err := s.fs.Stat(s.ctx, "/src/sub/f")
	s.True(errors.Is(err, types.ENOENT))

	err = s.fs.Rename(s.ctx, "/dst", "/dst/sub/inner")
	s.True(errors.Is(err, types.EINVAL))
}

func (s *InodeFSTestSuite) TestRenameReplace() {
	s.writeFile("/a", "A")
	s.writeFile("/b", "B")
	s.Nil(s.fs.Rename(s.ctx, "/a", "/b"))
	s.Equal("A", s.readFile("/b"))

	s.Nil(s.fs.Mkdir(s.ctx, "/full/x", types.MkdirOptions{Recursive: true}))
	s.Nil(s.fs.Mkdir(s.ctx, "/empty", types.MkdirOptions{}))
	s.True(errors.Is(s.fs.Rename(s.ctx, "/empty", "/full"), types.ENOTEMPTY))
	s.True(errors.Is(s.fs.Rename(s.ctx, "/b", "/empty"), types.EISDIR))
	s.True(errors.Is(s.fs.Rename(s.ctx, "/empty", "/b"), types.ENOTDIR))
	s.True(errors.Is(s.fs.Rename(s.ctx, "/nope", "/x"), types.ENOENT))
}

func (s *InodeFSTestSuite) TestReadDirPaging() {
	s.Nil(s.fs.Mkdir(s.ctx, "/many", types.MkdirOptions{}))
	total := types.ReadDirBatchCount*2 + 5
	for i := 0; i < total; i++ {
		s.writeFile(fmt.Sprintf("/many/f%03d", i), "")
	}
	s.Nil(s.fs.Mkdir(s.ctx, "/many/sub", types.MkdirOptions{}))
	s.writeFile("/many/sub/hidden", "")

	it, err := s.fs.ReadDir(s.ctx, "/many")
	s.Require().Nil(err)
	entries, err := vfs.ReadDirAll(it)
	s.Nil(err)
	s.Len(entries, total+1)
	s.Equal("f000", entries[0].Name)
	s.True(entries[len(entries)-1].IsDirectory)

	it.Reset()
	s.True(it.Next())
	s.Equal("f000", it.Entry().Name)

	_, err = s.fs.ReadDir(s.ctx, "/many/f000")
	s.True(errors.Is(err, types.ENOTDIR))
}

func (s *InodeFSTestSuite) TestCopyFile() {
	s.writeFile("/src", "copy me")
	s.Nil(s.fs.CopyFile(s.ctx, "/src", "/dst"))
	s.Equal("copy me", s.readFile("/dst"))

	s.writeFile("/src", "v2")
	s.Equal("copy me", s.readFile("/dst"))
	s.Nil(s.fs.CopyFile(s.ctx, "/src", "/dst"))
	s.Equal("v2", s.readFile("/dst"))

	s.Nil(s.fs.Mkdir(s.ctx, "/d", types.MkdirOptions{}))
	s.True(errors.Is(s.fs.CopyFile(s.ctx, "/d", "/x"), types.EISDIR))
	s.True(errors.Is(s.fs.CopyFile(s.ctx, "/src", "/d"), types.EISDIR))
}

func (s *InodeFSTestSuite) TestChmodChownCheckExistence() {
	s.writeFile("/f", "")
	s.Nil(s.fs.Chmod(s.ctx, "/f", 0600))
	s.Nil(s.fs.Chown(s.ctx, "/f", 1000, 1000))
	s.True(errors.Is(s.fs.Chmod(s.ctx, "/none", 0600), types.ENOENT))
	s.True(errors.Is(s.fs.Chown(s.ctx, "/none", 0, 0), types.ENOENT))
}
