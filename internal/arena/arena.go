// Package arena implements the per-worker bump allocator used while decoding
// text, plus the reset/free policy that bounds its growth across a batch.
package arena

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrExhausted is the panic value (wrapped) raised when an allocation would
// push the arena past its configured maximum.
var ErrExhausted = errors.New("arena: capacity exhausted")

const align = 8

type chunk struct {
	buf    []byte
	offset int
}

// Arena is a chunked bump allocator. Chunks survive Reset and are reused in
// order; Free drops them all. Not safe for concurrent use: each worker owns
// its own Arena.
type Arena struct {
	chunks    []chunk
	cur       int
	initial   int
	maxBytes  int
	capacity  int
	allocated int
}

// New creates an arena with one chunk of initialCapacity bytes. maxBytes
// bounds the sum of all chunk sizes; zero means no bound.
func New(initialCapacity, maxBytes int) *Arena {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	a := &Arena{initial: initialCapacity, maxBytes: maxBytes}
	a.Free()
	return a
}

// Alloc returns n bytes valid until the next Reset or Free. The returned
// slice has cap == len so appends never spill into a neighbour.
func (a *Arena) Alloc(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	for a.cur < len(a.chunks) {
		c := &a.chunks[a.cur]
		off := (c.offset + align - 1) &^ (align - 1)
		if off+n <= len(c.buf) {
			c.offset = off + n
			a.allocated += n
			return c.buf[off : off+n : off+n]
		}
		if a.cur == len(a.chunks)-1 {
			break
		}
		a.cur++
	}
	a.grow(n)
	c := &a.chunks[a.cur]
	c.offset = n
	a.allocated += n
	return c.buf[:n:n]
}

// AllocUint16 returns n zeroed-or-stale uint16 slots from the arena.
func (a *Arena) AllocUint16(n int) []uint16 {
	if n <= 0 {
		return []uint16{}
	}
	b := a.Alloc(n * 2)
	return unsafe.Slice((*uint16)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// AllocUint32 returns n uint32 slots from the arena.
func (a *Arena) AllocUint32(n int) []uint32 {
	if n <= 0 {
		return []uint32{}
	}
	b := a.Alloc(n * 4)
	return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// grow appends a chunk of at least n bytes, doubling the last chunk size
// when possible. Panics with ErrExhausted when the cap forbids it.
func (a *Arena) grow(n int) {
	size := a.initial
	if len(a.chunks) > 0 {
		size = 2 * len(a.chunks[len(a.chunks)-1].buf)
	}
	if size < n {
		size = n
	}
	if a.maxBytes > 0 && a.capacity+size > a.maxBytes {
		size = a.maxBytes - a.capacity
		if size < n {
			panic(fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrExhausted, n, a.capacity, a.maxBytes))
		}
	}
	a.chunks = append(a.chunks, chunk{buf: make([]byte, size)})
	a.cur = len(a.chunks) - 1
	a.capacity += size
}

// Reset rewinds every chunk without releasing memory. Every slice handed out
// before the call must be considered dead.
func (a *Arena) Reset() {
	for i := range a.chunks {
		a.chunks[i].offset = 0
	}
	a.cur = 0
	a.allocated = 0
}

// Free drops all chunks and starts over with a single chunk of the initial
// capacity, returning the rest to the garbage collector.
func (a *Arena) Free() {
	a.chunks = []chunk{{buf: make([]byte, a.initial)}}
	a.cur = 0
	a.capacity = a.initial
	a.allocated = 0
}

// Allocated returns the bytes handed out since the last Reset or Free.
func (a *Arena) Allocated() int { return a.allocated }

// Capacity returns the total size of the retained chunks.
func (a *Arena) Capacity() int { return a.capacity }

// Chunks returns the number of retained chunks.
func (a *Arena) Chunks() int { return len(a.chunks) }

// InitialCapacity returns the size a freed arena starts over with.
func (a *Arena) InitialCapacity() int { return a.initial }
