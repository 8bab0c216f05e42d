// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for connection-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration.

package control

import (
	"sync"
	"time"
)

// Metric keys recorded by the connection state machine and the host binding.
const (
	MetricConnectionsAccepted = "connections_accepted"
	MetricConnectionsRejected = "connections_rejected"
	MetricConnectionsActive   = "connections_active"
	MetricConnectionsClosed   = "connections_closed"
	MetricMessagesReceived    = "messages_received"
	MetricBytesReceived       = "bytes_received"
	MetricReceiveErrors       = "receive_errors"
	MetricBenignTeardowns     = "benign_teardowns"
	MetricSendsCompleted      = "sends_completed"
	MetricSendsFailed         = "sends_failed"
)

// MetricsRegistry holds named counters. A nil *MetricsRegistry accepts every
// call and records nothing.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]int64
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]int64),
	}
}

// Add increments key by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	mr.metrics[key] += delta
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value int64) {
	if mr == nil {
		return
	}
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Get returns the current value of key.
func (mr *MetricsRegistry) Get(key string) int64 {
	if mr == nil {
		return 0
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.metrics[key]
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	if mr == nil {
		return map[string]int64{}
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}

// Updated returns the time of the last write.
func (mr *MetricsRegistry) Updated() time.Time {
	if mr == nil {
		return time.Time{}
	}
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}
