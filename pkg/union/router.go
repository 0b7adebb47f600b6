package union

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
	"github.com/lambertxiao/go-vfs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

const rootBackend = "root"

type Options struct {
	Registerer prometheus.Registerer
}

type MountInfo struct {
	Point  string `json:"point"`
	Device string `json:"device"`
}

type mount struct {
	point  string
	device string
	fs     vfs.FileSystem
}

// Router composes backends into one namespace. Paths under a mount point
// go to the mounted device with the point stripped, everything else to the
// default backend. Errors always carry the caller's absolute path.
type Router struct {
	mutex   sync.RWMutex
	root    vfs.FileSystem
	devices map[string]vfs.FileSystem
	// longest point first
	mounts []mount

	opsDurationsHistogram *prometheus.HistogramVec
}

var _ vfs.FileSystem = (*Router)(nil)

func New(root vfs.FileSystem, opt Options) *Router {
	r := &Router{
		root:    root,
		devices: make(map[string]vfs.FileSystem),
	}
	r.initMetrics(opt.Registerer)
	return r
}

func (r *Router) initMetrics(reg prometheus.Registerer) {
	r.opsDurationsHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "router_ops_durations_histogram_seconds",
		Help:    "Router operations latency distributions.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 1.5, 30),
	}, []string{"backend", "method"})

	if reg == nil {
		return
	}
	reg.MustRegister(r.opsDurationsHistogram)
}

func (r *Router) observeOP(backend, method string, beginTime time.Time) {
	r.opsDurationsHistogram.WithLabelValues(backend, method).Observe(time.Since(beginTime).Seconds())
}

// RegisterDevice makes fs mountable under name.
func (r *Router) RegisterDevice(name string, fs vfs.FileSystem) error {
	if name == "" || fs == nil {
		return types.Errorf(types.KindInvalidArgument, "registerDevice", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.devices[name]; ok {
		return types.Errorf(types.KindAlreadyExists, "registerDevice", name)
	}
	r.devices[name] = fs
	return nil
}

// Mount binds device at point. Nested points are allowed, the same point
// twice is not.
func (r *Router) Mount(device, point string) error {
	point, err := vfs.Clean("mount", point)
	if err != nil {
		return err
	}
	if point == "/" {
		return &types.FSError{Kind: types.KindInvalidArgument, Op: "mount", Path: point, Msg: "cannot mount over the root"}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	fs, ok := r.devices[device]
	if !ok {
		return &types.FSError{Kind: types.KindNotFound, Op: "mount", Path: point, Msg: "unknown device " + device}
	}
	for _, m := range r.mounts {
		if m.point == point {
			return types.Errorf(types.KindAlreadyExists, "mount", point)
		}
	}

	r.mounts = append(r.mounts, mount{point: point, device: device, fs: fs})
	sort.SliceStable(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].point) > len(r.mounts[j].point)
	})
	logg.Dlog.Infof("mount device:%s point:%s", device, point)
	return nil
}

// Unmount drops the binding at point. The backend is left untouched.
func (r *Router) Unmount(point string) error {
	point, err := vfs.Clean("unmount", point)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, m := range r.mounts {
		if m.point == point {
			r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
			logg.Dlog.Infof("unmount device:%s point:%s", m.device, point)
			return nil
		}
	}
	return &types.FSError{Kind: types.KindInvalidArgument, Op: "unmount", Path: point, Msg: "not a mount point"}
}

func (r *Router) Mounts() []MountInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	infos := make([]MountInfo, 0, len(r.mounts))
	for _, m := range r.mounts {
		infos = append(infos, MountInfo{Point: m.point, Device: m.device})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Point < infos[j].Point })
	return infos
}

type target struct {
	fs      vfs.FileSystem
	backend string
	// mount point, "" for the default backend
	point string
	rel   string
}

// abs maps a backend path back into the namespace.
func (t target) abs(rel string) string {
	if t.point == "" {
		return rel
	}
	if rel == "/" {
		return t.point
	}
	return t.point + rel
}

func (t target) same(o target) bool {
	return t.point == o.point && t.backend == o.backend
}

// resolve picks the longest mount point covering p.
func (r *Router) resolve(p string) target {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, m := range r.mounts {
		if vfs.IsUnder(p, m.point) {
			rel := p[len(m.point):]
			if rel == "" {
				rel = "/"
			}
			return target{fs: m.fs, backend: m.device, point: m.point, rel: rel}
		}
	}
	return target{fs: r.root, backend: rootBackend, rel: p}
}

// childMounts lists the names directly below dir that lead to a mount
// point.
func (r *Router) childMounts(dir string) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	names := []string{}
	for _, m := range r.mounts {
		if m.point == dir || !strings.HasPrefix(m.point, prefix) {
			continue
		}
		name := strings.SplitN(m.point[len(prefix):], "/", 2)[0]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// isMountAncestor reports whether p is a mount point or lies above one.
func (r *Router) isMountAncestor(p string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, m := range r.mounts {
		if vfs.IsUnder(m.point, p) {
			return true
		}
	}
	return false
}

func (r *Router) isMountPoint(p string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, m := range r.mounts {
		if m.point == p {
			return true
		}
	}
	return false
}

func relabel(err error, p string) error {
	if err == nil {
		return nil
	}
	var fe *types.FSError
	if errors.As(err, &fe) {
		return types.WithPath(err, p)
	}
	return err
}
