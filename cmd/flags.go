package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/config"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"gopkg.in/yaml.v2"

	"github.com/urfave/cli"
)

const (
	// flags
	C_HELP              = "help, h"
	C_CONFIG            = "config"
	C_STORE_DRIVER      = "store_driver"
	C_STORE_PATH        = "store_path"
	C_CACHE_TTL         = "cache_ttl"
	C_SYMLINK_HOPS      = "symlink_hops"
	C_BRIDGE_TIMEOUT    = "bridge_timeout"
	C_BRIDGE_WAIT       = "bridge_wait"
	C_SEGMENT_SIZE      = "segment_size"
	C_MOUNT             = "mount"
	C_LEVEL             = "level"
	C_LOG_DIR           = "log_dir"
	C_LOG_MAX_AGE       = "log_max_age"
	C_LOG_ROTATION_TIME = "log_rotation_time"

	// command flags
	C_RECURSIVE = "recursive, r"
	C_LONG      = "l"
	C_COUNT     = "c"
)

func VersionPointer(c *cli.Context) {
	fmt.Printf("%v", c.App.Version)
}

func NewApp() *cli.App {
	cli.VersionPrinter = VersionPointer
	version := "GO_VFS Version: " + types.GO_VFS_VERSION + "\n" +
		"  Commit ID: " + types.COMMIT_ID + "\n" +
		"  Build: " + types.BUILD_TIME + "\n" +
		"  Go Version: " + types.GO_VERSION + "\n"

	app := &cli.App{
		Name:     "go-vfs",
		HideHelp: false,
		Version:  version,
		Usage:    "go-vfs [global options] <command> [arguments]",
		Writer:   os.Stdout,
		Commands: commands(),
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  C_HELP,
				Usage: "show help",
			},
			cli.StringFlag{
				Name:  C_CONFIG,
				Usage: "yaml config file",
				Value: "",
			},
			cli.StringFlag{
				Name:  C_STORE_DRIVER,
				Usage: "store of the default backend: leveldb/bolt",
				Value: types.DEFAULT_STORE_DRIVER,
			},
			cli.StringFlag{
				Name:  C_STORE_PATH,
				Usage: "path of the default store, empty keeps it in memory (leveldb only)",
				Value: "",
			},
			cli.DurationFlag{
				Name:  C_CACHE_TTL,
				Value: types.DEFAULT_CACHE_TTL,
				Usage: "How long an open handle trusts its cached metadata and content",
			},
			cli.IntFlag{
				Name:  C_SYMLINK_HOPS,
				Value: types.DEFAULT_SYMLINK_HOPS,
				Usage: "Max symlinks followed while resolving a path",
			},
			cli.DurationFlag{
				Name:  C_BRIDGE_TIMEOUT,
				Value: types.DEFAULT_BRIDGE_TIMEOUT,
				Usage: "How long a bridged call waits for its response",
			},
			cli.StringFlag{
				Name:  C_BRIDGE_WAIT,
				Value: types.DEFAULT_BRIDGE_WAIT,
				Usage: "How the caller waits for a response: block/spin",
			},
			cli.StringFlag{
				Name:  C_SEGMENT_SIZE,
				Value: "1m",
				Usage: "Response segment size. e.g.: 1m/64k/4096",
			},
			cli.StringSliceFlag{
				Name:  C_MOUNT,
				Usage: "Mount a host directory, <point>=<dir>[:ro]",
			},
			cli.StringFlag{
				Name:  C_LEVEL,
				Usage: "Set log level: error/warn/info/debug",
				Value: types.DEFAULT_LEVEL,
			},
			cli.StringFlag{
				Name:  C_LOG_DIR,
				Usage: "Set log dir",
				Value: "",
			},
			cli.DurationFlag{
				Name:  C_LOG_MAX_AGE,
				Usage: "Set log max age",
				Value: types.DEFAULT_LOG_MAX_AGE,
			},
			cli.DurationFlag{
				Name:  C_LOG_ROTATION_TIME,
				Usage: "Set log rotation time",
				Value: types.DEFAULT_LOG_ROTATION_TIME,
			},
		},
	}

	return app
}

func PopulateConfig(c *cli.Context) (*config.VFSConfig, error) {
	cfg := &config.VFSConfig{
		ConfigFile:      c.GlobalString(C_CONFIG),
		StoreDriver:     c.GlobalString(C_STORE_DRIVER),
		StorePath:       c.GlobalString(C_STORE_PATH),
		CacheTTL:        c.GlobalDuration(C_CACHE_TTL),
		SymlinkHops:     c.GlobalInt(C_SYMLINK_HOPS),
		BridgeTimeout:   c.GlobalDuration(C_BRIDGE_TIMEOUT),
		BridgeWait:      c.GlobalString(C_BRIDGE_WAIT),
		LogDir:          c.GlobalString(C_LOG_DIR),
		LogMaxAge:       c.GlobalDuration(C_LOG_MAX_AGE),
		LogRotationTime: c.GlobalDuration(C_LOG_ROTATION_TIME),
		MetricsLabel:    "go-vfs",
	}

	segmentSize, err := ParseStringToSize(strings.ToLower(c.GlobalString(C_SEGMENT_SIZE)))
	if err != nil {
		return cfg, err
	}
	cfg.SegmentSize = segmentSize

	for _, s := range c.GlobalStringSlice(C_MOUNT) {
		m, err := parseMountFlag(s)
		if err != nil {
			return cfg, err
		}
		cfg.Mounts = append(cfg.Mounts, m)
	}

	levelStr := c.GlobalString(C_LEVEL)
	if cfg.ConfigFile != "" {
		fileCfg, err := parseConfig(cfg)
		if err != nil {
			return cfg, err
		}
		if levelStr == types.DEFAULT_LEVEL && fileCfg.Log_level != "" {
			levelStr = fileCfg.Log_level
		}
	}

	cfg.Log_level = logg.ParseLevel(levelStr)
	logg.SetLevel(cfg.Log_level)

	if cfg.SymlinkHops <= 0 {
		cfg.SymlinkHops = types.DEFAULT_SYMLINK_HOPS
	}
	if cfg.SegmentSize < 1024 {
		return cfg, fmt.Errorf("segment_size must be at least 1k")
	}
	return cfg, nil
}

// parseMountFlag parses <point>=<dir>[:ro] into a host directory mount.
func parseMountFlag(s string) (config.MountConf, error) {
	equal := strings.IndexByte(s, '=')
	if equal <= 0 || equal == len(s)-1 {
		return config.MountConf{}, fmt.Errorf("invalid mount %q, want <point>=<dir>[:ro]", s)
	}
	m := config.MountConf{
		Point: s[:equal],
		Type:  "os",
		Root:  s[equal+1:],
	}
	if strings.HasSuffix(m.Root, ":ro") {
		m.Root = strings.TrimSuffix(m.Root, ":ro")
		m.ReadOnly = true
	}
	m.Device = m.Point
	return m, nil
}

// parseConfig merges the yaml file into conf. Values given on the command
// line win over the file.
func parseConfig(conf *config.VFSConfig) (*config.FileConfig, error) {
	y, err := os.ReadFile(conf.ConfigFile)
	if err != nil {
		fmt.Printf("parse config read file error: %v, %v", err, conf.ConfigFile)
		return nil, err
	}

	var fileConfig config.FileConfig
	err = yaml.Unmarshal(y, &fileConfig)
	if err != nil {
		fmt.Printf("parse config yaml error %v, %v", err, conf.ConfigFile)
		return nil, err
	}

	//string 类型
	if conf.StoreDriver == types.DEFAULT_STORE_DRIVER && fileConfig.Store_driver != "" {
		conf.StoreDriver = fileConfig.Store_driver
	}
	if conf.StorePath == "" && fileConfig.Store_path != "" {
		conf.StorePath = fileConfig.Store_path
	}
	if conf.BridgeWait == types.DEFAULT_BRIDGE_WAIT && fileConfig.Bridge_wait != "" {
		conf.BridgeWait = fileConfig.Bridge_wait
	}
	if conf.LogDir == "" && fileConfig.LogDir != "" {
		conf.LogDir = fileConfig.LogDir
	}

	// int 类型
	if conf.SymlinkHops == types.DEFAULT_SYMLINK_HOPS && fileConfig.Symlink_hops != 0 {
		conf.SymlinkHops = fileConfig.Symlink_hops
	}
	if conf.SegmentSize == types.DEFAULT_SEGMENT_SIZE && fileConfig.Segment_size != "" {
		size, err := ParseStringToSize(strings.ToLower(fileConfig.Segment_size))
		if err != nil {
			return nil, err
		}
		conf.SegmentSize = size
	}

	// duration 类型
	durations := []struct {
		name string
		dst  *time.Duration
		def  time.Duration
		val  string
	}{
		{"cache_ttl", &conf.CacheTTL, types.DEFAULT_CACHE_TTL, fileConfig.Cache_ttl},
		{"bridge_timeout", &conf.BridgeTimeout, types.DEFAULT_BRIDGE_TIMEOUT, fileConfig.Bridge_timeout},
		{"log_max_age", &conf.LogMaxAge, types.DEFAULT_LOG_MAX_AGE, fileConfig.LogMaxAge},
		{"log_rotation_time", &conf.LogRotationTime, types.DEFAULT_LOG_ROTATION_TIME, fileConfig.LogRotationTime},
	}
	for _, d := range durations {
		if *d.dst != d.def || d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			errorStr := fmt.Sprintf("invalid value %s for %s :parse error", d.val, d.name)
			return nil, errors.New(errorStr)
		}
		*d.dst = v
	}

	for _, m := range fileConfig.Mounts {
		mc, err := mountFromFile(m)
		if err != nil {
			return nil, err
		}
		conf.Mounts = append(conf.Mounts, mc)
	}

	fi, err := os.Stat(conf.ConfigFile)
	if err != nil {
		return nil, err
	}
	conf.ModifiedTime = fi.ModTime()
	return &fileConfig, nil
}

func mountFromFile(m config.MountFileConfig) (config.MountConf, error) {
	mc := config.MountConf{
		Point:    m.Point,
		Device:   m.Device,
		Type:     m.Type,
		Root:     m.Root,
		ReadOnly: m.Read_only,
		S3: config.StorageConf{
			Endpoint:  m.S3.Endpoint,
			Bucket:    m.S3.Bucket,
			AccessKey: m.S3.Access_key,
			SecertKey: m.S3.Secret_key,
			Prefix:    m.S3.Prefix,
			Secure:    m.S3.Secure,
			Retry:     m.S3.Retry,
		},
	}
	if mc.Point == "" {
		return mc, errors.New("parse config error, mount point is required")
	}
	if mc.Device == "" {
		mc.Device = mc.Point
	}

	switch mc.Type {
	case "inode", "os":
	case "s3":
		if mc.S3.AccessKey == "" {
			return mc, errors.New("parse config error, access_key is required")
		}
		if mc.S3.SecertKey == "" {
			return mc, errors.New("parse config error, secret_key is required")
		}
		if mc.S3.Endpoint == "" {
			return mc, errors.New("parse config error, endpoint key is required")
		}
		if mc.S3.Bucket == "" {
			return mc, errors.New("parse config error, bucket is required")
		}
	default:
		return mc, fmt.Errorf("parse config error, unknown mount type %q", mc.Type)
	}
	return mc, nil
}

func ParseStringToSize(str string) (int, error) {
	size_reg, err := regexp.Compile("([0-9][0-9]*)([mk]*)")
	if err != nil {
		return 0, err
	}
	ret := size_reg.FindAllStringSubmatch(str, -1)
	if len(ret) != 1 || len(ret[0]) != 3 || len(ret[0][1])+len(ret[0][2]) != len(str) {
		return 0, fmt.Errorf("parse string to size error %s", str)
	}
	size, err := strconv.ParseUint(ret[0][1], 10, 64)
	if err != nil {
		return -1, err
	}
	unit := ret[0][2]
	switch unit {
	case "k":
		size *= 1024
	case "m":
		size *= 1 << 20
	case "":
		break
	default:
		return 0, fmt.Errorf("invalid  size unit error %s", unit)
	}
	return int(size), err
}
