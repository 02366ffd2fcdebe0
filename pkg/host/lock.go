package host

import (
	"sync"

	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
)

var exclusive sync.Mutex

// Guard proves the exclusivity lock is held. Operations on shared host state
// take a *Guard so they cannot be called without one.
type Guard struct {
	released bool
}

// Acquire blocks until the global exclusivity lock is free and returns the
// guard that holds it.
//
//	g := host.Acquire()
//	defer g.Release()
func Acquire() *Guard {
	exclusive.Lock()
	return &Guard{}
}

// Release gives the lock back. Releasing twice is a no-op.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	exclusive.Unlock()
}

func mustHold(g *Guard) {
	if g == nil || g.released {
		panic(sdkerrors.Preconditionf("host: exclusivity lock not held"))
	}
}
