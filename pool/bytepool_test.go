package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/duplexws/pool"
)

func TestBytePoolSize(t *testing.T) {
	bp := pool.NewBytePool(128)
	b := bp.GetBuffer()
	require.Len(t, b, 128)
	bp.PutBuffer(b)

	b2 := bp.GetBuffer()
	assert.Len(t, b2, 128)
}

func TestBytePoolRestoresLengthAndCountsAllocations(t *testing.T) {
	bp := pool.NewBytePool(32)
	assert.Zero(t, bp.Allocated())

	b := bp.GetBuffer()
	bp.PutBuffer(b[:5])
	assert.Len(t, bp.GetBuffer(), 32)
	assert.GreaterOrEqual(t, bp.Allocated(), int64(1))
}

func TestSyncPoolReset(t *testing.T) {
	sp := pool.NewSyncPool(func() []int { return make([]int, 0, 4) }, func(s []int) []int { return s[:0] })
	s := append(sp.Get(), 1, 2)
	sp.Put(s)
	assert.Empty(t, sp.Get())
	assert.GreaterOrEqual(t, sp.Allocated(), int64(1))
}

func TestBytePoolDropsForeignSizes(t *testing.T) {
	bp := pool.NewBytePool(64)
	bp.PutBuffer(make([]byte, 32))
	assert.Len(t, bp.GetBuffer(), 64)
}

func TestForSizeSharesPools(t *testing.T) {
	a := pool.ForSize(4096)
	b := pool.ForSize(4096)
	c := pool.ForSize(8192)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 8192, c.Size())
}
