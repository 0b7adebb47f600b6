package kv

import (
	"context"
	"errors"
	"fmt"
)

// Table names one logical table of the store.
type Table string

const (
	// path -> inode id
	TableTree Table = "tree"
	// inode id -> metadata document
	TableMeta Table = "table"
	// inode id -> content bytes
	TableFile Table = "file"
	// inode id -> symlink target
	TableSymlink Table = "symlink"
	// counters
	TableSys Table = "sys"
)

var Tables = []Table{TableTree, TableMeta, TableFile, TableSymlink, TableSys}

var ErrNotFound = errors.New("kv: key not found")

// Tx is a read or read/write transaction. Slices handed to Scan callbacks
// and returned by Get are owned by the caller.
type Tx interface {
	Get(t Table, key []byte) ([]byte, error)
	Put(t Table, key, value []byte) error
	Delete(t Table, key []byte) error
	// Scan visits keys of t starting with prefix in ascending order,
	// beginning at start when start sorts after prefix. fn returns false
	// to stop the scan.
	Scan(t Table, prefix, start []byte, fn func(key, value []byte) bool) error
}

// Store gives transactional access to the tables. Each Update commits
// atomically; nothing is atomic across two calls.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

const (
	DriverLevelDB = "leveldb"
	DriverBolt    = "bolt"
)

// Open opens a store with the named driver. An empty path with the
// leveldb driver gives a memory-backed store.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverLevelDB, "":
		if path == "" {
			return OpenLevelMem()
		}
		return OpenLevel(path)
	case DriverBolt:
		return OpenBolt(path)
	}
	return nil, fmt.Errorf("kv: unknown driver %q", driver)
}
