// File: internal/concurrency/serial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SerialQueue is an ordered executor: jobs submitted from any goroutine run
// one at a time, in FIFO order, on a single drain goroutine that exists only
// while there is work.

package concurrency

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// Job is one unit of work run by a SerialQueue.
type Job func() error

type pendingJob struct {
	run    Job
	future *Future
}

// SerialQueue runs jobs strictly sequentially in submission order.
type SerialQueue struct {
	mu       sync.Mutex
	pending  *queue.Queue
	draining bool
}

// NewSerialQueue returns an idle queue.
func NewSerialQueue() *SerialQueue {
	return &SerialQueue{pending: queue.New()}
}

// Enqueue appends job and returns its Future. It never waits for earlier jobs.
// A failing job completes only its own Future; later jobs still run.
func (q *SerialQueue) Enqueue(job Job) *Future {
	if job == nil {
		return Failed(ErrNilJob)
	}
	f := newFuture()

	q.mu.Lock()
	q.pending.Add(&pendingJob{run: job, future: f})
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return f
}

// Len returns the number of jobs waiting to run, excluding the one in flight.
func (q *SerialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// Idle reports whether no drain goroutine is active.
func (q *SerialQueue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining
}

// drain is the only goroutine that runs jobs. It exits once the queue is
// empty; the emptiness check and clearing draining happen under one lock so
// a concurrent Enqueue either sees draining==true or starts a new drain.
func (q *SerialQueue) drain() {
	for {
		q.mu.Lock()
		if q.pending.Length() == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		next := q.pending.Remove().(*pendingJob)
		q.mu.Unlock()

		next.future.complete(runJob(next.run))
	}
}

func runJob(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return job()
}
