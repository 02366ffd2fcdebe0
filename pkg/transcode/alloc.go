package transcode

// Allocator hands out scratch buffers for decoded output. An arena allocator
// ties the buffer's lifetime to the arena generation; Heap returns ordinary
// garbage-collected memory.
type Allocator interface {
	Alloc(n int) []byte
}

type heap struct{}

func (heap) Alloc(n int) []byte { return make([]byte, n) }

// Heap allocates with make.
var Heap Allocator = heap{}
