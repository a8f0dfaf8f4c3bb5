package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, size uint32) (*Heap, []byte) {
	t.Helper()
	mem := make([]byte, size)
	h, err := New(mem, 0, size)
	require.NoError(t, err)
	return h, mem
}

func TestAllocBasic(t *testing.T) {
	h, _ := newTestHeap(t, 4096)
	p1, err := h.Alloc(16)
	require.NoError(t, err)
	require.True(t, h.Contains(p1))

	p2, err := h.Alloc(32)
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
}

func TestAllocZeroesPayload(t *testing.T) {
	h, mem := newTestHeap(t, 256)
	p1, err := h.Alloc(16)
	require.NoError(t, err)
	for i := uint32(0); i < 16; i++ {
		mem[p1+i] = 0xAA
	}
	require.NoError(t, h.Free(p1))

	p2, err := h.Alloc(16)
	require.NoError(t, err)
	for i := uint32(0); i < 16; i++ {
		require.Equal(t, byte(0), mem[p2+i])
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	h, _ := newTestHeap(t, 64)
	_, err := h.Alloc(1024)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestFreeAndReuse(t *testing.T) {
	h, _ := newTestHeap(t, 4096)
	p1, err := h.Alloc(64)
	require.NoError(t, err)
	require.NoError(t, h.Free(p1))

	p2, err := h.Alloc(64)
	require.NoError(t, err)
	require.Equal(t, p1, p2, "first-fit should reuse the freed block")
}

func TestFreeInvalidPointer(t *testing.T) {
	h, _ := newTestHeap(t, 256)
	require.ErrorIs(t, h.Free(0), ErrInvalidPointer)
	require.ErrorIs(t, h.Free(99999), ErrInvalidPointer)
}

func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	h, _ := newTestHeap(t, 4096)
	p1, err := h.Alloc(64)
	require.NoError(t, err)
	p2, err := h.Alloc(64)
	require.NoError(t, err)

	require.NoError(t, h.Free(p1))
	require.NoError(t, h.Free(p2))

	// freeing p2 coalesces it with the free tail after it (64+8+3944 = 4016
	// payload bytes), so an allocation larger than the tail alone (3944)
	// now succeeds.
	_, err = h.Alloc(4000)
	require.NoError(t, err)
}

func TestReallocGrowPreservesContents(t *testing.T) {
	h, mem := newTestHeap(t, 4096)
	p, err := h.Alloc(16)
	require.NoError(t, err)
	copy(mem[p:p+16], []byte("0123456789abcdef"))

	p2, err := h.Realloc(p, 64)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), mem[p2:p2+16])
}

func TestReallocShrinkInPlace(t *testing.T) {
	h, _ := newTestHeap(t, 4096)
	p, err := h.Alloc(128)
	require.NoError(t, err)

	p2, err := h.Realloc(p, 8)
	require.NoError(t, err)
	require.Equal(t, p, p2, "shrinking should reuse the same block in place")
}

func TestReallocNilActsAsAlloc(t *testing.T) {
	h, _ := newTestHeap(t, 4096)
	p, err := h.Realloc(0, 32)
	require.NoError(t, err)
	require.True(t, h.Contains(p))
}

func TestContains(t *testing.T) {
	h, _ := newTestHeap(t, 256)
	require.True(t, h.Contains(0))
	require.True(t, h.Contains(255))
	require.False(t, h.Contains(256))
}

func TestNewRejectsSpanLargerThanMemory(t *testing.T) {
	mem := make([]byte, 64)
	_, err := New(mem, 0, 128)
	require.Error(t, err)
}
