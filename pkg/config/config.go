package config

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type StorageConf struct {
	Bucket    string
	AccessKey string
	SecertKey string
	Endpoint  string
	Prefix    string
	Secure    bool
	Retry     int
}

type MountConf struct {
	Point  string
	Device string
	// inode, os or s3
	Type string
	// db path for inode, directory for os
	Root     string
	ReadOnly bool
	S3       StorageConf
}

type VFSConfig struct {
	ModifiedTime time.Time
	ConfigFile   string

	// default backend
	StoreDriver string
	StorePath   string

	CacheTTL     time.Duration
	SymlinkHops  int
	Mounts       []MountConf
	MetricsLabel string

	// bridge
	BridgeTimeout time.Duration
	BridgeWait    string
	SegmentSize   int

	Log_level       logrus.Level
	LogDir          string
	LogMaxAge       time.Duration
	LogRotationTime time.Duration
}

var (
	vfsConfig *VFSConfig
	cfgLock   sync.RWMutex
)

func GetGConfig() *VFSConfig {
	cfgLock.RLock()
	defer cfgLock.RUnlock()

	return vfsConfig
}

func SetGConfig(cfg *VFSConfig) {
	cfgLock.Lock()
	defer cfgLock.Unlock()

	vfsConfig = cfg
}

type S3FileConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Bucket     string `yaml:"bucket"`
	Access_key string `yaml:"access_key"`
	Secret_key string `yaml:"secret_key"`
	Prefix     string `yaml:"prefix"`
	Secure     bool   `yaml:"secure"`
	Retry      int    `yaml:"retry"`
}

type MountFileConfig struct {
	Point     string       `yaml:"point"`
	Device    string       `yaml:"device"`
	Type      string       `yaml:"type"`
	Root      string       `yaml:"root"`
	Read_only bool         `yaml:"read_only"`
	S3        S3FileConfig `yaml:"s3"`
}

type FileConfig struct {
	Store_driver    string            `yaml:"store_driver"`
	Store_path      string            `yaml:"store_path"`
	Cache_ttl       string            `yaml:"cache_ttl"`
	Symlink_hops    int               `yaml:"symlink_hops"`
	Bridge_timeout  string            `yaml:"bridge_timeout"`
	Bridge_wait     string            `yaml:"bridge_wait"`
	Segment_size    string            `yaml:"segment_size"`
	LogDir          string            `yaml:"log_dir"`
	Log_level       string            `yaml:"level"`
	LogMaxAge       string            `yaml:"log_max_age"`
	LogRotationTime string            `yaml:"log_rotation_time"`
	Mounts          []MountFileConfig `yaml:"mounts"`
}
