package arena

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		initial  int
		expected int
	}{
		{"default capacity", 0, DefaultInitialCapacity},
		{"negative capacity", -1, DefaultInitialCapacity},
		{"custom capacity", 4096, 4096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.initial, 0)
			assert.Equal(t, tt.expected, a.Capacity())
			assert.Equal(t, 1, a.Chunks())
			assert.Zero(t, a.Allocated())
		})
	}
}

func TestArena_Alloc(t *testing.T) {
	a := New(1024, 0)

	b := a.Alloc(100)
	require.Len(t, b, 100)
	assert.Equal(t, 100, cap(b))
	assert.Equal(t, 100, a.Allocated())

	assert.Empty(t, a.Alloc(0))
	assert.Empty(t, a.Alloc(-3))

	big := a.Alloc(2000)
	require.Len(t, big, 2000)
	assert.Equal(t, 2, a.Chunks())
	assert.Equal(t, 1024+2048, a.Capacity())
}

func TestArena_AllocAligned(t *testing.T) {
	a := New(1024, 0)
	a.Alloc(3)
	u16 := a.AllocUint16(5)
	u32 := a.AllocUint32(7)
	require.Len(t, u16, 5)
	require.Len(t, u32, 7)
	assert.Zero(t, uintptr(unsafe.Pointer(&u16[0]))%2)
	assert.Zero(t, uintptr(unsafe.Pointer(&u32[0]))%4)

	// writes must not overlap
	for i := range u16 {
		u16[i] = 0xFFFF
	}
	for i := range u32 {
		u32[i] = 0
	}
	for _, v := range u16 {
		assert.Equal(t, uint16(0xFFFF), v)
	}
}

func TestArena_ResetReusesChunks(t *testing.T) {
	a := New(1024, 0)
	a.Alloc(1000)
	a.Alloc(1500)
	a.Alloc(3000)
	capBefore := a.Capacity()
	chunksBefore := a.Chunks()

	a.Reset()
	assert.Zero(t, a.Allocated())
	assert.Equal(t, capBefore, a.Capacity())

	a.Alloc(1000)
	a.Alloc(1500)
	a.Alloc(3000)
	assert.Equal(t, chunksBefore, a.Chunks(), "reset arena should refill retained chunks before growing")
	assert.Equal(t, capBefore, a.Capacity())
}

func TestArena_Free(t *testing.T) {
	a := New(1024, 0)
	a.Alloc(10000)
	require.Greater(t, a.Capacity(), 1024)

	a.Free()
	assert.Equal(t, 1024, a.Capacity())
	assert.Equal(t, 1, a.Chunks())
	assert.Zero(t, a.Allocated())
}

func TestArena_MaxBytes(t *testing.T) {
	a := New(1024, 4096)
	a.Alloc(1000)
	a.Alloc(2000)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrExhausted))
	}()
	a.Alloc(5000)
	t.Fatal("allocation past the cap should panic")
}

func TestArena_MaxBytesClampsGrowth(t *testing.T) {
	a := New(1024, 3000)
	a.Alloc(1024)
	b := a.Alloc(1500)
	assert.Len(t, b, 1500)
	assert.LessOrEqual(t, a.Capacity(), 3000)
}
