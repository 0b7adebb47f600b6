package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the POSIX-flavored class of a filesystem failure. It is an
// error itself so callers can match with errors.Is(err, types.ENOENT).
type ErrorKind string

const (
	KindNotFound          ErrorKind = "NotFound"
	KindAlreadyExists     ErrorKind = "AlreadyExists"
	KindIsADirectory      ErrorKind = "IsADirectory"
	KindNotADirectory     ErrorKind = "NotADirectory"
	KindDirectoryNotEmpty ErrorKind = "DirectoryNotEmpty"
	KindInvalidArgument   ErrorKind = "InvalidArgument"
	KindBadResource       ErrorKind = "BadResource"
	KindNotImplemented    ErrorKind = "NotImplemented"
	KindTimeout           ErrorKind = "Timeout"
	KindPermissionDenied  ErrorKind = "PermissionDenied"
	KindFilesystemLoop    ErrorKind = "FilesystemLoop"
)

var kindText = map[ErrorKind]string{
	KindNotFound:          "no such file or directory",
	KindAlreadyExists:     "file exists",
	KindIsADirectory:      "is a directory",
	KindNotADirectory:     "not a directory",
	KindDirectoryNotEmpty: "directory not empty",
	KindInvalidArgument:   "invalid argument",
	KindBadResource:       "bad resource id",
	KindNotImplemented:    "function not implemented",
	KindTimeout:           "timed out",
	KindPermissionDenied:  "permission denied",
	KindFilesystemLoop:    "too many levels of symbolic links",
}

func (k ErrorKind) Error() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return string(k)
}

func (k ErrorKind) Known() bool {
	_, ok := kindText[k]
	return ok
}

var (
	ENOENT    error = KindNotFound
	EEXIST    error = KindAlreadyExists
	EISDIR    error = KindIsADirectory
	ENOTDIR   error = KindNotADirectory
	ENOTEMPTY error = KindDirectoryNotEmpty
	EINVAL    error = KindInvalidArgument
	EBADF     error = KindBadResource
	ENOSYS    error = KindNotImplemented
	ETIMEDOUT error = KindTimeout
	EPERM     error = KindPermissionDenied
	ELOOP     error = KindFilesystemLoop
)

// FSError carries the failing operation and path next to its kind.
type FSError struct {
	Kind ErrorKind
	Op   string
	Path string
	Msg  string
}

func (e *FSError) Error() string {
	if e.Op == "" && e.Path == "" {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}

	s := fmt.Sprintf("%s: %s '%s'", e.Kind.Error(), e.Op, e.Path)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *FSError) Unwrap() error {
	return e.Kind
}

// Errorf builds an FSError for op on path.
func Errorf(kind ErrorKind, op, path string) error {
	return &FSError{Kind: kind, Op: op, Path: path}
}

// Wrap tags err with op and path. A kind already carried by err is kept,
// anything else is reported as-is.
func Wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	kind, ok := KindOf(err)
	if !ok {
		return err
	}
	var fe *FSError
	if errors.As(err, &fe) {
		return &FSError{Kind: kind, Op: op, Path: path, Msg: fe.Msg}
	}
	return &FSError{Kind: kind, Op: op, Path: path}
}

// WithPath rewrites the path of an FSError, used when a backend-relative
// path must be reported as the caller's absolute path.
func WithPath(err error, path string) error {
	var fe *FSError
	if !errors.As(err, &fe) {
		return err
	}
	cp := *fe
	cp.Path = path
	return &cp
}

// KindOf extracts the ErrorKind carried by err.
func KindOf(err error) (ErrorKind, bool) {
	var kind ErrorKind
	if errors.As(err, &kind) {
		return kind, true
	}
	return "", false
}

// NewKindError rebuilds an error received across a serialization boundary.
// Unknown kinds degrade to a plain error carrying the original message.
func NewKindError(kind string, msg string) error {
	k := ErrorKind(kind)
	if !k.Known() {
		return errors.New(msg)
	}
	return &FSError{Kind: k, Msg: msg}
}
