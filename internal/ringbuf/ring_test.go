package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushAndSnapshotOrder(t *testing.T) {
	r := New[int](4)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 4, r.Cap())

	r.Push(1)
	r.Push(2)
	r.Push(3)
	assert.Equal(t, []int{1, 2, 3}, r.Snapshot())
}

func TestOverflowDropsOldest(t *testing.T) {
	const n = 5
	r := New[int](n)

	// n+k pushes leave length n with the (k+1)-th push as the oldest.
	const k = 3
	for i := 1; i <= n+k; i++ {
		r.Push(i)
	}
	snap := r.Snapshot()
	require.Len(t, snap, n)
	assert.Equal(t, k+1, snap[0])
	assert.Equal(t, n+k, snap[n-1])
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	r := New[int](2)
	r.Push(10)
	r.Push(20)

	snap := r.Snapshot()
	r.Push(30)
	r.Push(40)

	assert.Equal(t, []int{10, 20}, snap)
}

func TestNewest(t *testing.T) {
	r := New[string](2)

	_, ok := r.Newest()
	assert.False(t, ok)

	r.Push("a")
	r.Push("b")
	r.Push("c")

	got, ok := r.Newest()
	require.True(t, ok)
	assert.Equal(t, "c", got)
}

func TestZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
