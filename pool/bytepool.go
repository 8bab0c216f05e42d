// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

// BytePool recycles fixed-size receive buffers. Every connection with the
// same maximum message size draws from the same pool.
type BytePool struct {
	pool *SyncPool[*[]byte]
	size int
}

// NewBytePool returns a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		pool: NewSyncPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		}, func(b *[]byte) *[]byte {
			*b = (*b)[:size]
			return b
		}),
		size: size,
	}
}

// Size is the length of every buffer handed out.
func (b *BytePool) Size() int {
	return b.size
}

// GetBuffer returns a buffer of exactly Size bytes.
func (b *BytePool) GetBuffer() []byte {
	return *b.pool.Get()
}

// PutBuffer returns buf to the pool. Buffers of a foreign size are dropped.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.pool.Put(&buf)
}

// Allocated reports how many buffers the pool has created, which bounds the
// receive memory it holds.
func (b *BytePool) Allocated() int64 {
	return b.pool.Allocated()
}

var (
	registryMu sync.Mutex
	registry   = make(map[int]*BytePool)
)

// ForSize returns the process-wide pool for size-byte buffers.
func ForSize(size int) *BytePool {
	registryMu.Lock()
	defer registryMu.Unlock()
	if p, ok := registry[size]; ok {
		return p
	}
	p := NewBytePool(size)
	registry[size] = p
	return p
}
