package scheduler

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultMaxThreads asks the OS how many logical CPUs are actually
// available, falling back to runtime.NumCPU if that probe fails, then
// clamps to the engine's configured ceiling.
func DefaultMaxThreads(ceiling int) int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	if n < 1 {
		n = 1
	}
	return n
}

// WorkerPool bounds concurrent dispatch of multi-threaded systems and tile
// rasterize/cull work to a fixed number of goroutines.
type WorkerPool struct {
	slots chan struct{}
}

// NewWorkerPool creates a pool with size concurrent slots.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{slots: make(chan struct{}, size)}
}

// Go runs fn in a goroutine once a slot is free (blocking if the pool is
// saturated), returning a function that waits for fn to complete.
func (p *WorkerPool) Go(ctx context.Context, fn func()) func() {
	done := make(chan struct{})
	go func() {
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-ctx.Done():
			close(done)
			return
		}
		defer close(done)
		fn()
	}()
	return func() { <-done }
}

// RunAll dispatches every fn concurrently (bounded by the pool's slot
// count) and waits for all of them to complete.
func (p *WorkerPool) RunAll(ctx context.Context, fns []func()) {
	waiters := make([]func(), 0, len(fns))
	for _, fn := range fns {
		waiters = append(waiters, p.Go(ctx, fn))
	}
	for _, wait := range waiters {
		wait()
	}
}
