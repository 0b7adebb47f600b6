// Package handle is the host-native hierarchical handle API: directories
// and files are reached by walking names from a root directory handle,
// and file content is replaced through writable streams that only become
// visible once closed.
package handle

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/types"
)

type Kind int

const (
	KindFile Kind = iota + 1
	KindDirectory
)

type PermissionMode string

const (
	ModeRead      PermissionMode = "read"
	ModeReadWrite PermissionMode = "readwrite"
)

type PermissionState string

const (
	Granted PermissionState = "granted"
	Denied  PermissionState = "denied"
	Prompt  PermissionState = "prompt"
)

type Handle interface {
	Kind() Kind
	Name() string
	QueryPermission(ctx context.Context, mode PermissionMode) (PermissionState, error)
	RequestPermission(ctx context.Context, mode PermissionMode) (PermissionState, error)
}

type Entry struct {
	Name string
	Kind Kind
}

// DirectoryHandle errors: a missing child is ENOENT, asking for a file
// where a directory lives is EISDIR and the reverse ENOTDIR.
type DirectoryHandle interface {
	Handle
	GetDirectoryHandle(ctx context.Context, name string, create bool) (DirectoryHandle, error)
	GetFileHandle(ctx context.Context, name string, create bool) (FileHandle, error)
	RemoveEntry(ctx context.Context, name string, recursive bool) error
	Entries(ctx context.Context) ([]Entry, error)
}

type FileHandle interface {
	Handle
	GetFile(ctx context.Context) (Blob, error)
	// CreateWritable opens a stream over a private copy of the content,
	// empty unless keepExisting.
	CreateWritable(ctx context.Context, keepExisting bool) (WritableStream, error)
}

// Blob is a read-only snapshot of a file.
type Blob interface {
	io.ReaderAt
	io.Closer
	Size() int64
	LastModified() time.Time
}

// WritableStream writes at its cursor. Writing or truncating past the end
// zero-fills. Close publishes the content, Abort drops it.
type WritableStream interface {
	Write(p []byte) (int, error)
	Seek(offset int64) error
	Truncate(size int64) error
	Close() error
	Abort() error
}

// ValidName rejects names that cannot address a single child.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: "handle", Path: name, Msg: "invalid entry name"}
	}
	return nil
}

// ReadAll drains a blob.
func ReadAll(b Blob) ([]byte, error) {
	return io.ReadAll(io.NewSectionReader(b, 0, b.Size()))
}
