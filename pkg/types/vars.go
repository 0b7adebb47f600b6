package types

import (
	"time"
)

var (
	GO_VFS_VERSION string
	GO_VERSION     string
	COMMIT_ID      string
	BUILD_TIME     string
)

const (
	// default value
	DEFAULT_STORE_DRIVER      = "leveldb"
	DEFAULT_CACHE_TTL         = 100 * time.Millisecond
	DEFAULT_BRIDGE_TIMEOUT    = 2 * time.Second
	DEFAULT_BRIDGE_WAIT       = "block"
	DEFAULT_SEGMENT_SIZE      = 1024 * 1024 // 1MB
	DEFAULT_SYMLINK_HOPS      = 32
	DEFAULT_LOG_MAX_AGE       = 72 * time.Hour
	DEFAULT_LOG_ROTATION_TIME = 1 * time.Hour
	DEFAULT_LEVEL             = "info"
	DEFAULT_RETRY             = 3

	// rids below this value belong to stdio
	FirstRid = 3

	// largest size a file can be truncated or written to
	MAX_FILE_SIZE = 1 << 32

	ReadDirBatchCount = 64
)
