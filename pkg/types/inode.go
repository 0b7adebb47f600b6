package types

import (
	"time"
)

type InodeID uint64

const (
	InvalidInodeID InodeID = 0
	RootInodeID    InodeID = 1
)

type InodeKind uint8

const (
	KindFile InodeKind = iota + 1
	KindDir
	KindSymlink
)

func (k InodeKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindSymlink:
		return "symlink"
	}
	return "unknown"
}

// Inode is the metadata record persisted per inode id.
type Inode struct {
	Ino       InodeID   `json:"ino"`
	Kind      InodeKind `json:"kind"`
	Size      uint64    `json:"size"`
	Mtime     time.Time `json:"mtime"`
	Birthtime time.Time `json:"birthtime"`
	Nlink     uint32    `json:"nlink"`
}

func (inode *Inode) IsDir() bool {
	return inode.Kind == KindDir
}

func (inode *Inode) IsFile() bool {
	return inode.Kind == KindFile
}

func (inode *Inode) IsSymlink() bool {
	return inode.Kind == KindSymlink
}

// Touch moves mtime forward to now, never backwards.
func (inode *Inode) Touch(now time.Time) {
	if now.After(inode.Mtime) {
		inode.Mtime = now
	}
}

// FileInfo is the external view of an inode handed to callers.
type FileInfo struct {
	IsFile      bool      `json:"isFile"`
	IsDirectory bool      `json:"isDirectory"`
	IsSymlink   bool      `json:"isSymlink"`
	Size        uint64    `json:"size"`
	Mtime       time.Time `json:"mtime"`
	Birthtime   time.Time `json:"birthtime"`
	Nlink       uint32    `json:"nlink"`
	Ino         uint64    `json:"ino"`
}

func (inode *Inode) Info() FileInfo {
	return FileInfo{
		IsFile:      inode.IsFile(),
		IsDirectory: inode.IsDir(),
		IsSymlink:   inode.IsSymlink(),
		Size:        inode.Size,
		Mtime:       inode.Mtime,
		Birthtime:   inode.Birthtime,
		Nlink:       inode.Nlink,
		Ino:         uint64(inode.Ino),
	}
}
