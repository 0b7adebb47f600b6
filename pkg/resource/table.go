package resource

import (
	"sort"
	"sync"

	"github.com/lambertxiao/go-vfs/pkg/logg"
	"github.com/lambertxiao/go-vfs/pkg/types"
)

// Resource is anything a rid can point at. Capabilities beyond Close are
// discovered through the interfaces below.
type Resource interface {
	Name() string
	Close() error
}

type Reader interface {
	Read(p []byte) (int, error)
}

type Writer interface {
	Write(p []byte) (int, error)
}

type Seeker interface {
	Seek(offset int64, whence int) (int64, error)
}

type Stater interface {
	Stat() (types.FileInfo, error)
}

type Truncater interface {
	Truncate(size int64) error
}

type Syncer interface {
	Sync() error
}

// Table hands out small integer rids for open resources. Rids grow
// monotonically and are never reused by the same table.
type Table struct {
	mutex     sync.RWMutex
	nextRid   int
	resources map[int]Resource
}

func NewTable() *Table {
	return &Table{
		nextRid:   types.FirstRid,
		resources: make(map[int]Resource),
	}
}

func (t *Table) Add(r Resource) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	rid := t.nextRid
	t.nextRid++
	t.resources[rid] = r
	return rid
}

func (t *Table) Get(rid int) (Resource, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	r, ok := t.resources[rid]
	return r, ok
}

func (t *Table) GetOrErr(rid int) (Resource, error) {
	r, ok := t.Get(rid)
	if !ok {
		return nil, &types.FSError{Kind: types.KindBadResource, Msg: "bad resource id"}
	}
	return r, nil
}

// Close drops rid from the table and closes the resource behind it.
func (t *Table) Close(rid int) error {
	t.mutex.Lock()
	r, ok := t.resources[rid]
	delete(t.resources, rid)
	t.mutex.Unlock()

	if !ok {
		return &types.FSError{Kind: types.KindBadResource, Msg: "bad resource id"}
	}
	return r.Close()
}

// Forget drops rid without closing it, for resources that close
// themselves.
func (t *Table) Forget(rid int) {
	t.mutex.Lock()
	delete(t.resources, rid)
	t.mutex.Unlock()
}

func (t *Table) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return len(t.resources)
}

// Rids lists the live rids in ascending order.
func (t *Table) Rids() []int {
	t.mutex.RLock()
	rids := make([]int, 0, len(t.resources))
	for rid := range t.resources {
		rids = append(rids, rid)
	}
	t.mutex.RUnlock()

	sort.Ints(rids)
	return rids
}

// CloseAll releases everything, used on context teardown.
func (t *Table) CloseAll() {
	for _, rid := range t.Rids() {
		if err := t.Close(rid); err != nil {
			logg.Dlog.Warnf("close rid:%d err:%v", rid, err)
		}
	}
}

// Lookup returns the resource behind rid as capability T. A missing rid
// or a resource lacking T are both BadResource.
func Lookup[T any](t *Table, rid int) (T, error) {
	var zero T
	r, err := t.GetOrErr(rid)
	if err != nil {
		return zero, err
	}
	c, ok := r.(T)
	if !ok {
		return zero, &types.FSError{Kind: types.KindBadResource, Msg: "resource " + r.Name() + " does not support the operation"}
	}
	return c, nil
}
