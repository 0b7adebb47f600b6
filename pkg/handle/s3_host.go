package handle

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/common"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/storage"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

const (
	listBatch      = 1000
	deleteParallel = 8
)

// S3Host maps directories onto key prefixes of an object store. A
// directory exists when its marker object "dir/" or any key below it
// exists.
type S3Host struct {
	sto      storage.Storage
	prefix   string
	readOnly bool
}

func NewS3Host(sto storage.Storage, prefix string, readOnly bool) *S3Host {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Host{sto: sto, prefix: prefix, readOnly: readOnly}
}

func (h *S3Host) Root() DirectoryHandle {
	return &s3Dir{host: h, key: h.prefix}
}

func (h *S3Host) permission(mode PermissionMode) PermissionState {
	if mode == ModeReadWrite && h.readOnly {
		return Denied
	}
	return Granted
}

func (h *S3Host) checkWrite() error {
	if h.readOnly {
		return types.EPERM
	}
	return nil
}

func (h *S3Host) fileExists(key string) (*storage.HeadFileReply, bool, error) {
	reply, err := h.sto.HeadFile(&storage.HeadFileRequest{Key: key})
	if err == types.ENOENT {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return reply, true, nil
}

func (h *S3Host) dirExists(key string) (bool, error) {
	if _, ok, err := h.fileExists(key); ok || err != nil {
		return ok, err
	}
	reply, err := h.sto.ListObjects(&storage.ListObjectsRequest{Prefix: key, Max: 1})
	if err != nil {
		return false, err
	}
	return len(reply.Objects) > 0 || len(reply.CommonPrefixes) > 0, nil
}

func (h *S3Host) put(key string, data []byte) error {
	_, err := h.sto.PutFile(&storage.PutFileRequest{
		Buf:    bytes.NewReader(data),
		BufLen: len(data),
		Key:    key,
	})
	return err
}

// listAll walks every key below prefix.
func (h *S3Host) listAll(prefix string) ([]string, error) {
	keys := []string{}
	marker := ""
	for {
		reply, err := h.sto.ListObjects(&storage.ListObjectsRequest{
			Prefix: prefix,
			Max:    listBatch,
			Marker: marker,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range reply.Objects {
			keys = append(keys, obj.Key)
		}
		if !reply.IsTrunc || reply.Marker == "" {
			return keys, nil
		}
		marker = reply.Marker
	}
}

type s3Dir struct {
	host *S3Host
	key  string
}

func (d *s3Dir) Kind() Kind { return KindDirectory }

func (d *s3Dir) Name() string {
	if d.key == d.host.prefix {
		return ""
	}
	name := strings.TrimSuffix(d.key, "/")
	return name[strings.LastIndex(name, "/")+1:]
}

func (d *s3Dir) QueryPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return d.host.permission(mode), nil
}

func (d *s3Dir) RequestPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return d.host.permission(mode), nil
}

func (d *s3Dir) GetDirectoryHandle(ctx context.Context, name string, create bool) (DirectoryHandle, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	key := d.key + name + "/"

	ok, err := d.host.dirExists(key)
	if err != nil {
		return nil, err
	}
	if ok {
		return &s3Dir{host: d.host, key: key}, nil
	}
	if _, isFile, err := d.host.fileExists(d.key + name); err != nil {
		return nil, err
	} else if isFile {
		return nil, types.ENOTDIR
	}
	if !create {
		return nil, types.ENOENT
	}

	if err := d.host.checkWrite(); err != nil {
		return nil, err
	}
	if err := d.host.put(key, nil); err != nil {
		return nil, err
	}
	return &s3Dir{host: d.host, key: key}, nil
}

func (d *s3Dir) GetFileHandle(ctx context.Context, name string, create bool) (FileHandle, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	key := d.key + name

	if _, ok, err := d.host.fileExists(key); err != nil {
		return nil, err
	} else if ok {
		return &s3File{host: d.host, key: key}, nil
	}
	if ok, err := d.host.dirExists(key + "/"); err != nil {
		return nil, err
	} else if ok {
		return nil, types.EISDIR
	}
	if !create {
		return nil, types.ENOENT
	}

	if err := d.host.checkWrite(); err != nil {
		return nil, err
	}
	if err := d.host.put(key, nil); err != nil {
		return nil, err
	}
	return &s3File{host: d.host, key: key}, nil
}

func (d *s3Dir) RemoveEntry(ctx context.Context, name string, recursive bool) error {
	if err := d.host.checkWrite(); err != nil {
		return err
	}
	if err := ValidName(name); err != nil {
		return err
	}
	key := d.key + name

	if _, ok, err := d.host.fileExists(key); err != nil {
		return err
	} else if ok {
		_, err = d.host.sto.DeleteFile(&storage.DeleteFileRequest{Key: key})
		return err
	}

	keys, err := d.host.listAll(key + "/")
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return types.ENOENT
	}
	if !recursive {
		for _, k := range keys {
			if k != key+"/" {
				return types.ENOTEMPTY
			}
		}
	}

	// 并发删除，保留第一个错误
	pool := common.NewParallelPool(deleteParallel)
	var mutex sync.Mutex
	var firstErr error
	for _, k := range keys {
		k := k
		pool.Go(func() {
			_, err := d.host.sto.DeleteFile(&storage.DeleteFileRequest{Key: k})
			if err != nil && err != types.ENOENT {
				logg.Dlog.Errorf("remove key:%s err:%v", k, err)
				mutex.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mutex.Unlock()
			}
		})
	}
	pool.Wait()
	return firstErr
}

func (d *s3Dir) Entries(ctx context.Context) ([]Entry, error) {
	entries := []Entry{}
	marker := ""
	for {
		reply, err := d.host.sto.ListObjects(&storage.ListObjectsRequest{
			Delimiter: "/",
			Prefix:    d.key,
			Max:       listBatch,
			Marker:    marker,
		})
		if err != nil {
			return nil, err
		}
		for _, p := range reply.CommonPrefixes {
			name := strings.TrimSuffix(p[len(d.key):], "/")
			if name != "" {
				entries = append(entries, Entry{Name: name, Kind: KindDirectory})
			}
		}
		for _, obj := range reply.Objects {
			if obj.Key == d.key {
				continue
			}
			entries = append(entries, Entry{Name: obj.Key[len(d.key):], Kind: KindFile})
		}
		if !reply.IsTrunc || reply.Marker == "" {
			return entries, nil
		}
		marker = reply.Marker
	}
}

type s3File struct {
	host *S3Host
	key  string
}

func (f *s3File) Kind() Kind { return KindFile }

func (f *s3File) Name() string {
	return f.key[strings.LastIndex(f.key, "/")+1:]
}

func (f *s3File) QueryPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return f.host.permission(mode), nil
}

func (f *s3File) RequestPermission(ctx context.Context, mode PermissionMode) (PermissionState, error) {
	return f.host.permission(mode), nil
}

func (f *s3File) GetFile(ctx context.Context) (Blob, error) {
	reply, err := f.host.sto.HeadFile(&storage.HeadFileRequest{Key: f.key})
	if err != nil {
		return nil, err
	}
	return &s3Blob{host: f.host, key: f.key, size: int64(reply.Info.Size), mtime: reply.Info.Mtime}, nil
}

func (f *s3File) CreateWritable(ctx context.Context, keepExisting bool) (WritableStream, error) {
	if err := f.host.checkWrite(); err != nil {
		return nil, err
	}

	buf := []byte{}
	if keepExisting {
		reply, err := f.host.sto.GetFile(&storage.GetFileRequest{Key: f.key})
		if err != nil && err != types.ENOENT {
			return nil, err
		}
		if err == nil {
			buf, err = io.ReadAll(reply.Body)
			reply.Body.Close()
			if err != nil {
				return nil, err
			}
		}
	}
	return &s3Stream{host: f.host, key: f.key, buf: buf}, nil
}

type s3Blob struct {
	host  *S3Host
	key   string
	size  int64
	mtime time.Time
}

func (b *s3Blob) Size() int64 { return b.size }

func (b *s3Blob) LastModified() time.Time { return b.mtime }

func (b *s3Blob) ReadAt(p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > b.size {
		length = b.size - off
	}
	if length == 0 {
		return 0, nil
	}

	reply, err := b.host.sto.GetFile(&storage.GetFileRequest{Key: b.key, Offset: uint64(off), Length: int(length)})
	if err != nil {
		return 0, err
	}
	defer reply.Body.Close()

	n, err := io.ReadFull(reply.Body, p[:length])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

func (b *s3Blob) Close() error { return nil }

// s3Stream buffers the whole object and uploads it on Close.
type s3Stream struct {
	host   *S3Host
	key    string
	buf    []byte
	pos    int64
	closed bool
}

func (s *s3Stream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, types.EBADF
	}
	end := s.pos + int64(len(p))
	if end > types.MAX_FILE_SIZE {
		return 0, types.EINVAL
	}
	if end > int64(len(s.buf)) {
		s.grow(end)
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *s3Stream) grow(size int64) {
	grown := make([]byte, size)
	copy(grown, s.buf)
	s.buf = grown
}

func (s *s3Stream) Seek(offset int64) error {
	if s.closed {
		return types.EBADF
	}
	if offset < 0 {
		return types.EINVAL
	}
	s.pos = offset
	return nil
}

func (s *s3Stream) Truncate(size int64) error {
	if s.closed {
		return types.EBADF
	}
	if size < 0 || size > types.MAX_FILE_SIZE {
		return types.EINVAL
	}
	if size <= int64(len(s.buf)) {
		s.buf = s.buf[:size]
	} else {
		s.grow(size)
	}
	return nil
}

func (s *s3Stream) Close() error {
	if s.closed {
		return types.EBADF
	}
	s.closed = true
	return s.host.put(s.key, s.buf)
}

func (s *s3Stream) Abort() error {
	if s.closed {
		return types.EBADF
	}
	s.closed = true
	s.buf = nil
	return nil
}
