// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"
	"sync/atomic"
)

// SyncPool is a typed sync.Pool. The optional reset runs on every Put, and
// Allocated counts how many objects the creator had to build.
type SyncPool[T any] struct {
	pool      sync.Pool
	reset     func(T) T
	allocated atomic.Int64
}

// NewSyncPool creates a pool that builds objects with creator. reset may be
// nil.
func NewSyncPool[T any](creator func() T, reset func(T) T) *SyncPool[T] {
	sp := &SyncPool[T]{reset: reset}
	sp.pool.New = func() any {
		sp.allocated.Add(1)
		return creator()
	}
	return sp
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		obj = sp.reset(obj)
	}
	sp.pool.Put(obj)
}

// Allocated reports the number of objects created so far.
func (sp *SyncPool[T]) Allocated() int64 {
	return sp.allocated.Load()
}
