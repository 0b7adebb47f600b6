package bridge

import (
	"runtime"
	"time"

	"github.com/lambertxiao/go-vfs/pkg/types"
)

const (
	WaitBlock = "block"
	WaitSpin  = "spin"
)

// Waiter blocks until a length is published on seg or timeout elapses.
// It returns the consumed length, zero meaning timeout.
type Waiter interface {
	Wait(seg *Segment, timeout time.Duration) int32
}

func NewWaiter(mode string) (Waiter, error) {
	switch mode {
	case WaitBlock, "":
		return blockWaiter{}, nil
	case WaitSpin:
		return spinWaiter{}, nil
	}
	return nil, &types.FSError{Kind: types.KindInvalidArgument, Op: "wait", Path: mode, Msg: "unknown wait mode"}
}

// blockWaiter sleeps on the segment notification.
type blockWaiter struct{}

func (blockWaiter) Wait(seg *Segment, timeout time.Duration) int32 {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// a notification may be left over from an earlier call
		if n := seg.take(); n != 0 {
			return n
		}
		select {
		case <-seg.notify:
		case <-timer.C:
			return seg.take()
		}
	}
}

// spinWaiter polls the length cell until the deadline.
type spinWaiter struct{}

func (spinWaiter) Wait(seg *Segment, timeout time.Duration) int32 {
	deadline := time.Now().Add(timeout)
	for spins := 0; ; spins++ {
		if seg.load() != 0 {
			return seg.take()
		}
		if spins%64 == 0 && time.Now().After(deadline) {
			return seg.take()
		}
		runtime.Gosched()
	}
}
