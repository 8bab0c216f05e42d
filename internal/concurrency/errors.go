// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrJobPanicked indicates a queued job panicked; the queue keeps draining.
	ErrJobPanicked = errors.New("queued job panicked")

	// ErrNilJob indicates Enqueue was called without a job.
	ErrNilJob = errors.New("nil job")
)
