package storage

import (
	"io"
	"time"
)

// Storage is the object store behind an s3 mount. Keys never start with
// "/"; a key ending in "/" is a directory marker.
type Storage interface {
	HeadFile(*HeadFileRequest) (*HeadFileReply, error)
	PutFile(*PutFileRequest) (*PutFileReply, error)
	ListObjects(*ListObjectsRequest) (*ListObjectsReply, error)
	GetFile(*GetFileRequest) (*GetFileReply, error)
	DeleteFile(*DeleteFileRequest) (*DeleteFileReply, error)
	Copy(*CopyRequest) error
}

type ListObjectsRequest struct {
	Delimiter string
	Prefix    string
	Max       uint32
	Marker    string
}
type ListObjectsReply struct {
	IsTrunc        bool
	Objects        []*ObjectInfo
	CommonPrefixes []string
	Marker         string
}

type ObjectInfo struct {
	Key      string
	Size     uint64
	Mtime    time.Time
	Ctime    time.Time
	Metadata map[string]string
}

type HeadFileRequest struct {
	Key string
}
type HeadFileReply struct {
	Info  ObjectInfo
	IsDir bool
}

type PutFileRequest struct {
	Buf      io.ReadSeeker
	BufLen   int
	Key      string
	MetaData map[string]string
}
type PutFileReply struct {
	Etag string
}

// GetFileRequest reads Length bytes from Offset. A Length of zero or less
// reads to the end of the object.
type GetFileRequest struct {
	Offset uint64
	Length int
	Key    string
}

type GetFileReply struct {
	Body io.ReadCloser
}

type DeleteFileRequest struct {
	Key string
}

type DeleteFileReply struct {
}

type CopyRequest struct {
	Src string
	Dst string
}
