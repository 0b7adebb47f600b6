package handle

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

// pending stream content lives next to its target until Close
const swapSuffix = ".crswap"

// OSHost serves handles over a local directory tree.
type OSHost struct {
	root     string
	readOnly bool
}

func NewOSHost(root string, readOnly bool) (*OSHost, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapOSErr(err)
	}
	if !info.IsDir() {
		return nil, types.ENOTDIR
	}
	return &OSHost{root: abs, readOnly: readOnly}, nil
}

func (h *OSHost) Root() DirectoryHandle {
	return &osDir{host: h, path: h.root, name: ""}
}

func (h *OSHost) permission(mode PermissionMode) PermissionState {
	if mode == ModeReadWrite && h.readOnly {
		return Denied
	}
	return Granted
}

func (h *OSHost) checkWrite() error {
	if h.readOnly {
		return types.EPERM
	}
	return nil
}

func mapOSErr(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return types.ENOENT
	// os.IsExist also matches ENOTEMPTY
	case errors.Is(err, syscall.ENOTEMPTY):
		return types.ENOTEMPTY
	case os.IsExist(err):
		return types.EEXIST
	case os.IsPermission(err):
		return types.EPERM
	case errors.Is(err, syscall.ENOTDIR):
		return types.ENOTDIR
	case errors.Is(err, syscall.EISDIR):
		return types.EISDIR
	}
	return err
}

type osDir struct {
	host *OSHost
	path string
	name string
}

func (d *osDir) Kind() Kind   { return KindDirectory }
func (d *osDir) Name() string { return d.name }

func (d *osDir) QueryPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return d.host.permission(mode), nil
}

func (d *osDir) RequestPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return d.host.permission(mode), nil
}

func (d *osDir) child(name string) (string, os.FileInfo, error) {
	if err := ValidName(name); err != nil {
		return "", nil, err
	}
	p := filepath.Join(d.path, name)
	info, err := os.Lstat(p)
	if err != nil {
		return p, nil, mapOSErr(err)
	}
	// host symlinks may point outside the root
	if info.Mode()&os.ModeSymlink != 0 {
		return p, info, types.EPERM
	}
	return p, info, nil
}

func (d *osDir) GetDirectoryHandle(ctx context.Context, name string, create bool) (DirectoryHandle, error) {
	p, info, err := d.child(name)
	if err == types.ENOENT && create {
		if err := d.host.checkWrite(); err != nil {
			return nil, err
		}
		if err := os.Mkdir(p, 0755); err != nil && !os.IsExist(err) {
			return nil, mapOSErr(err)
		}
		return &osDir{host: d.host, path: p, name: name}, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, types.ENOTDIR
	}
	return &osDir{host: d.host, path: p, name: name}, nil
}

func (d *osDir) GetFileHandle(ctx context.Context, name string, create bool) (FileHandle, error) {
	p, info, err := d.child(name)
	if err == types.ENOENT && create {
		if err := d.host.checkWrite(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, mapOSErr(err)
		}
		f.Close()
		return &osFile{host: d.host, path: p, name: name}, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, types.EISDIR
	}
	return &osFile{host: d.host, path: p, name: name}, nil
}

func (d *osDir) RemoveEntry(ctx context.Context, name string, recursive bool) error {
	if err := d.host.checkWrite(); err != nil {
		return err
	}
	p, info, err := d.child(name)
	if err == types.EPERM && info != nil {
		return mapOSErr(os.Remove(p))
	}
	if err != nil {
		return err
	}
	if info.IsDir() && recursive {
		return mapOSErr(os.RemoveAll(p))
	}
	return mapOSErr(os.Remove(p))
}

func (d *osDir) Entries(ctx context.Context) ([]Entry, error) {
	dirents, err := os.ReadDir(d.path)
	if err != nil {
		return nil, mapOSErr(err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if strings.HasSuffix(de.Name(), swapSuffix) || de.Type()&os.ModeSymlink != 0 {
			continue
		}
		kind := KindFile
		if de.IsDir() {
			kind = KindDirectory
		}
		entries = append(entries, Entry{Name: de.Name(), Kind: kind})
	}
	return entries, nil
}

type osFile struct {
	host *OSHost
	path string
	name string
}

func (f *osFile) Kind() Kind   { return KindFile }
func (f *osFile) Name() string { return f.name }

func (f *osFile) QueryPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return f.host.permission(mode), nil
}

func (f *osFile) RequestPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return f.host.permission(mode), nil
}

func (f *osFile) GetFile(ctx context.Context) (Blob, error) {
	fd, err := os.Open(f.path)
	if err != nil {
		return nil, mapOSErr(err)
	}
	info, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, mapOSErr(err)
	}
	return &osBlob{File: fd, info: info}, nil
}

func (f *osFile) CreateWritable(ctx context.Context, keepExisting bool) (WritableStream, error) {
	if err := f.host.checkWrite(); err != nil {
		return nil, err
	}

	swap := f.path + swapSuffix
	fd, err := os.OpenFile(swap, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, mapOSErr(err)
	}

	if keepExisting {
		src, err := os.Open(f.path)
		if err == nil {
			_, err = io.Copy(fd, src)
			src.Close()
		}
		if err == nil {
			_, err = fd.Seek(0, io.SeekStart)
		}
		if err != nil && !os.IsNotExist(err) {
			fd.Close()
			os.Remove(swap)
			return nil, mapOSErr(err)
		}
	}
	return &osStream{fd: fd, swap: swap, target: f.path}, nil
}

type osBlob struct {
	*os.File
	info os.FileInfo
}

func (b *osBlob) Size() int64 { return b.info.Size() }

func (b *osBlob) LastModified() time.Time { return b.info.ModTime() }

type osStream struct {
	fd     *os.File
	swap   string
	target string
	closed bool
}

func (s *osStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, types.EBADF
	}
	return s.fd.Write(p)
}

func (s *osStream) Seek(offset int64) error {
	if s.closed {
		return types.EBADF
	}
	if offset < 0 {
		return types.EINVAL
	}
	_, err := s.fd.Seek(offset, io.SeekStart)
	return err
}

func (s *osStream) Truncate(size int64) error {
	if s.closed {
		return types.EBADF
	}
	if size < 0 || size > types.MAX_FILE_SIZE {
		return types.EINVAL
	}
	return s.fd.Truncate(size)
}

func (s *osStream) Close() error {
	if s.closed {
		return types.EBADF
	}
	s.closed = true
	if err := s.fd.Close(); err != nil {
		os.Remove(s.swap)
		return err
	}
	if err := os.Rename(s.swap, s.target); err != nil {
		logg.Dlog.Errorf("publish swap:%s target:%s err:%v", s.swap, s.target, err)
		os.Remove(s.swap)
		return mapOSErr(err)
	}
	return nil
}

func (s *osStream) Abort() error {
	if s.closed {
		return types.EBADF
	}
	s.closed = true
	s.fd.Close()
	return mapOSErr(os.Remove(s.swap))
}
