package common

import (
	"sync"
)

// ParallelPool bounds how many object requests run at once.
type ParallelPool struct {
	Waitfor   *sync.WaitGroup
	WriteChan chan struct{}
}

func NewParallelPool(parallel int) *ParallelPool {
	if parallel <= 0 {
		parallel = 1
	}
	return &ParallelPool{
		Waitfor:   &sync.WaitGroup{},
		WriteChan: make(chan struct{}, parallel),
	}
}

func (u *ParallelPool) GetWrite() {
	u.WriteChan <- struct{}{}
	u.Waitfor.Add(1)
}

func (u *ParallelPool) PutWrite() {
	<-u.WriteChan
	u.Waitfor.Done()
}

// Go runs fn once a slot is free.
func (u *ParallelPool) Go(fn func()) {
	u.GetWrite()
	go func() {
		defer u.PutWrite()
		fn()
	}()
}

func (u *ParallelPool) Wait() {
	u.Waitfor.Wait()
}
