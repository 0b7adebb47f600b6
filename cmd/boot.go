package main

import (
	"context"
	"fmt"

	"github.com/lambertxiao/go-vfs/pkg/bridge"
	"github.com/lambertxiao/go-vfs/pkg/config"
	"github.com/lambertxiao/go-vfs/pkg/handle"
	"github.com/lambertxiao/go-vfs/pkg/inodefs"
	"github.com/lambertxiao/go-vfs/pkg/kv"
	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/metrics"
	"github.com/lambertxiao/go-vfs/pkg/nativefs"
	"github.com/lambertxiao/go-vfs/pkg/resource"
	"github.com/lambertxiao/go-vfs/pkg/storage"
	"github.com/lambertxiao/go-vfs/pkg/union"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

// session owns both sides of one invocation: the worker context with the
// stores, router and its resource table, and the client context calling
// it through the bridge.
type session struct {
	cancel      context.CancelFunc
	stores      []kv.Store
	workerTable *resource.Table
	clientTable *resource.Table
	router      *union.Router
	client      *bridge.Client
	registry    *prometheus.Registry
}

func boot(cfg *config.VFSConfig) (*session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		cancel:      cancel,
		workerTable: resource.NewTable(),
		clientTable: resource.NewTable(),
	}
	booted := false
	defer func() {
		if !booted {
			s.close()
		}
	}()

	var registerer prometheus.Registerer
	s.registry, registerer = metrics.InitMetricRegistry(cfg.MetricsLabel)
	metrics.RegistMetrics(registerer)
	metrics.RegistResources(registerer, s.workerTable.Len)

	root, err := s.openInodeFS(ctx, cfg.StoreDriver, cfg.StorePath, cfg)
	if err != nil {
		return nil, err
	}
	s.router = union.New(root, union.Options{Registerer: registerer})

	storageRegistered := false
	for _, m := range cfg.Mounts {
		var fs vfs.FileSystem
		switch m.Type {
		case "inode":
			fs, err = s.openInodeFS(ctx, cfg.StoreDriver, m.Root, cfg)
		case "os":
			var host *handle.OSHost
			host, err = handle.NewOSHost(m.Root, m.ReadOnly)
			if err == nil {
				fs = nativefs.New(host.Root(), s.workerTable)
			}
		case "s3":
			var reg prometheus.Registerer
			// only the first s3 mount reports object metrics
			if !storageRegistered {
				reg, storageRegistered = registerer, true
			}
			var sto *storage.S3Storage
			sto, err = storage.NewS3Storage(m.S3, reg)
			if err == nil {
				fs = nativefs.New(handle.NewS3Host(sto, m.S3.Prefix, m.ReadOnly).Root(), s.workerTable)
			}
		default:
			err = fmt.Errorf("unknown mount type %q", m.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", m.Point, err)
		}

		if err = s.router.RegisterDevice(m.Device, fs); err != nil {
			return nil, err
		}
		if err = s.router.Mount(m.Device, m.Point); err != nil {
			return nil, err
		}
	}

	inbox := make(chan *bridge.Request)
	go bridge.NewWorker(s.router, inbox).Run(ctx)

	s.client, err = bridge.NewClient(inbox, s.clientTable, bridge.Options{
		Timeout:     cfg.BridgeTimeout,
		Wait:        cfg.BridgeWait,
		SegmentSize: cfg.SegmentSize,
		Registerer:  registerer,
	})
	if err != nil {
		return nil, err
	}

	booted = true
	logg.Dlog.Debugf("boot store:%s path:%s mounts:%d", cfg.StoreDriver, cfg.StorePath, len(cfg.Mounts))
	return s, nil
}

func (s *session) openInodeFS(ctx context.Context, driver, path string, cfg *config.VFSConfig) (*inodefs.FS, error) {
	store, err := kv.Open(driver, path)
	if err != nil {
		return nil, err
	}
	s.stores = append(s.stores, store)

	return inodefs.New(ctx, store, s.workerTable, inodefs.Options{
		CacheTTL:    cfg.CacheTTL,
		SymlinkHops: cfg.SymlinkHops,
	})
}

func (s *session) close() {
	s.clientTable.CloseAll()
	if s.client != nil {
		s.client.Close()
	}
	s.cancel()
	s.workerTable.CloseAll()
	for _, store := range s.stores {
		if err := store.Close(); err != nil {
			logg.Dlog.Errorf("close store: %v", err)
		}
	}
}
