// File: internal/concurrency/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"
)

// Future is the pending outcome of one job. It satisfies api.Completion.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed returns a Future that already completed with err.
func Failed(err error) *Future {
	f := newFuture()
	f.complete(err)
	return f
}

// complete records err and releases waiters. Later calls are ignored.
func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the job finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the job outcome, or nil while the job is still pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the job finished or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
