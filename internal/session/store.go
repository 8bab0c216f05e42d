// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe connection registry for high concurrency.

package session

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Session is a live connection the registry can address and stop.
type Session interface {
	ID() string
	Shutdown()
}

// Registry implements sharded storage for sessions.
type Registry struct {
	shards []*sessionShard
	mask   uint32
	count  atomic.Int64
}

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry constructs a sharded registry with shardCount shards.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = 16
	}
	// find power-of-two shards for bitmasking
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*sessionShard, m)
	for i := range shards {
		shards[i] = &sessionShard{sessions: make(map[string]Session)}
	}
	return &Registry{shards: shards, mask: m - 1}
}

// shard picks the correct shard for a given id.
func (r *Registry) shard(id string) *sessionShard {
	return r.shards[fnv32(id)&r.mask]
}

// Add registers s. It reports false if the ID is already present.
func (r *Registry) Add(s Session) bool {
	sh := r.shard(s.ID())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[s.ID()]; ok {
		return false
	}
	sh.sessions[s.ID()] = s
	r.count.Add(1)
	return true
}

// Get fetches a session if present.
func (r *Registry) Get(id string) (Session, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Delete removes the session without stopping it.
func (r *Registry) Delete(id string) {
	sh := r.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; ok {
		delete(sh.sessions, id)
		r.count.Add(-1)
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Range applies fn to all sessions. fn must not call back into the registry.
func (r *Registry) Range(fn func(Session)) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			fn(s)
		}
		sh.mu.RUnlock()
	}
}

// ShutdownAll calls Shutdown on every registered session.
func (r *Registry) ShutdownAll() {
	var all []Session
	r.Range(func(s Session) { all = append(all, s) })
	for _, s := range all {
		s.Shutdown()
	}
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
