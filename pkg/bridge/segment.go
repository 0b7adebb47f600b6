package bridge

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/lambertxiao/go-vfs/pkg/common"
)

const headerSize = 4

// Segment is the shared response area of one outstanding call: a 4 byte
// little-endian length header followed by the payload. The length is
// published through an atomic cell, positive for a result, negative for
// an error payload and zero while nothing is ready.
type Segment struct {
	cell   atomic.Int32
	buf    []byte
	notify chan struct{}
}

// NewSegment allocates a segment able to carry size payload bytes.
func NewSegment(size int) *Segment {
	return &Segment{
		buf:    common.MMP.GetData(int64(headerSize + size)),
		notify: make(chan struct{}, 1),
	}
}

// Cap is the largest payload the segment can carry.
func (s *Segment) Cap() int {
	return len(s.buf) - headerSize
}

func (s *Segment) Payload() []byte {
	return s.buf[headerSize:]
}

// Header decodes the length header as written by the last Publish.
func (s *Segment) Header() int32 {
	return int32(binary.LittleEndian.Uint32(s.buf[:headerSize]))
}

// Publish makes n visible to the waiting side and wakes it. The payload
// must be in place before the call.
func (s *Segment) Publish(n int32) {
	binary.LittleEndian.PutUint32(s.buf[:headerSize], uint32(n))
	s.cell.Store(n)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Segment) load() int32 {
	return s.cell.Load()
}

// take reads and clears the length cell.
func (s *Segment) take() int32 {
	return s.cell.Swap(0)
}

// release hands the buffer back to the pool. Only segments whose last
// call completed may be released, an abandoned one can still be written.
func (s *Segment) release() {
	common.MMP.PutData(s.buf)
	s.buf = nil
}
