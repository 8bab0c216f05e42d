// Package api
// Author: momentics@gmail.com
//
// Completion handles for asynchronous operations.

package api

import "context"

// Completion is the eventual outcome of one queued operation.
type Completion interface {
	// Done is closed once the operation finished.
	Done() <-chan struct{}
	// Err returns the outcome; nil until Done is closed.
	Err() error
	// Wait blocks until the operation finishes or ctx ends.
	Wait(ctx context.Context) error
}
