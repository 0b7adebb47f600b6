package common

import (
	"sort"
	"sync"
)

const (
	KB = 1024
	MB = 1024 * 1024
)

// MMP backs the bridge segments. Buffers are grouped by size class so a
// replaced segment can hand its memory to the next one.
var MMP = NewMultiMemPool()

var defaultPool = []int{
	4 * KB, 16 * KB, 64 * KB, 256 * KB,
	1 * MB, 2 * MB, 4 * MB, 8 * MB, 16 * MB,
}

// 多级内存池
func NewMultiMemPool(sizes ...int) *MultiMemPool {
	if len(sizes) == 0 {
		sizes = defaultPool
	}
	mmp := &MultiMemPool{}
	for _, v := range sizes {
		mmp.Add(int64(v))
	}
	return mmp
}

type MultiMemPool struct {
	mutex    sync.RWMutex
	poollist []*MemPool
}

// Add registers a size class, duplicates are ignored.
func (mmp *MultiMemPool) Add(chunkSize int64) {
	mmp.mutex.Lock()
	defer mmp.mutex.Unlock()

	for _, p := range mmp.poollist {
		if p.ChunkSize == chunkSize {
			return
		}
	}
	mmp.poollist = append(mmp.poollist, &MemPool{
		pool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, chunkSize)
			},
		},
		ChunkSize: chunkSize,
	})
	sort.Slice(mmp.poollist, func(i, j int) bool {
		return mmp.poollist[i].ChunkSize < mmp.poollist[j].ChunkSize
	})
}

// Get returns the smallest size class holding size bytes, nil when size
// is beyond the largest class.
func (mmp *MultiMemPool) Get(size int64) *MemPool {
	mmp.mutex.RLock()
	defer mmp.mutex.RUnlock()

	for _, p := range mmp.poollist {
		if size <= p.ChunkSize {
			return p
		}
	}
	return nil
}

// GetData returns a zeroed buffer of exactly size bytes. Sizes above the
// largest class are allocated directly.
func (mmp *MultiMemPool) GetData(size int64) []byte {
	p := mmp.Get(size)
	if p == nil {
		return make([]byte, size)
	}
	buf := p.get()[:size]
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// PutData gives buf back to the class it came from. Foreign buffers are
// dropped.
func (mmp *MultiMemPool) PutData(buf []byte) {
	c := int64(cap(buf))
	if p := mmp.Get(c); p != nil && p.ChunkSize == c {
		p.pool.Put(buf[:c])
	}
}

type MemPool struct {
	pool      *sync.Pool
	ChunkSize int64
}

func (mp *MemPool) get() []byte {
	return mp.pool.Get().([]byte)
}
