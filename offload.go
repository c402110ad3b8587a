// SPDX-License-Identifier: GPL-3.0-or-later

package dnssocket

import (
	"context"
	"runtime"
	"sync"

	"github.com/bassosimone/runtimex"
)

// Offloader runs functions that perform blocking system calls.
//
// Jobs run on OS threads that are not shared with other goroutines for
// the whole duration of the job.
type Offloader interface {
	// Offload schedules fn for execution and returns once the job has
	// been accepted. It does not wait for fn to complete.
	Offload(ctx context.Context, fn func()) error
}

// GoroutineOffloader is an [Offloader] running each job in its own goroutine
// locked to its OS thread.
//
// The zero value is ready to use.
type GoroutineOffloader struct{}

var _ Offloader = GoroutineOffloader{}

// Offload implements [Offloader].
func (GoroutineOffloader) Offload(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		fn()
	}()
	return nil
}

// WorkerPool is an [Offloader] with a fixed number of workers, each
// locked to its own OS thread, consuming a bounded queue.
//
// Construct using [NewWorkerPool].
type WorkerPool struct {
	// jobs is the queue of accepted jobs.
	jobs chan func()

	// mu protects closed and sending on jobs.
	mu sync.RWMutex

	// closed is set by Close.
	closed bool

	// wg tracks the running workers.
	wg sync.WaitGroup
}

// NewWorkerPool creates a new [*WorkerPool] with the given number of workers
// and queue size. The number of workers MUST be positive.
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	runtimex.Assert(workers > 0)
	runtimex.Assert(queueSize >= 0)
	wp := &WorkerPool{jobs: make(chan func(), queueSize)}
	for range workers {
		wp.wg.Add(1)
		go wp.worker()
	}
	return wp
}

var _ Offloader = &WorkerPool{}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for fn := range wp.jobs {
		fn()
	}
}

// Offload implements [Offloader].
//
// It blocks while the queue is full, until the context is done.
func (wp *WorkerPool) Offload(ctx context.Context, fn func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrOffloaderClosed
	}
	select {
	case wp.jobs <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for the accepted ones to complete.
//
// This method is idempotent.
func (wp *WorkerPool) Close() error {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobs)
	}
	wp.mu.Unlock()
	wp.wg.Wait()
	return nil
}

// SpawnBlocking runs fn using the given [Offloader] and waits for its result.
//
// When the context is done before fn returns, SpawnBlocking returns the context
// error immediately. The job cannot be interrupted, so its eventual successful
// result is passed to release (when not nil), which should free any resource
// held by the value (e.g., close a connection).
func SpawnBlocking[T any](ctx context.Context, o Offloader, fn func() (T, error), release func(T)) (T, error) {
	type result struct {
		value T
		err   error
	}
	var zero T

	// The channel is buffered so the job never blocks on delivery.
	resch := make(chan result, 1)
	err := o.Offload(ctx, func() {
		value, err := fn()
		resch <- result{value, err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case res := <-resch:
		return res.value, res.err
	case <-ctx.Done():
		go func() {
			res := <-resch
			if res.err == nil && release != nil {
				release(res.value)
			}
		}()
		return zero, ctx.Err()
	}
}
