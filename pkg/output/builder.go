// Package output materializes destination collections: storage is sized
// once, every slot is filled by a transfer write, and the finished list is
// only handed out when no slot is left empty.
package output

import (
	"fmt"
	"sync/atomic"

	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
)

// Builder collects exactly one value per index. SetTransfer may be called
// concurrently for distinct indices.
type Builder struct {
	items    []host.Object
	written  []atomic.Bool
	count    atomic.Int64
	finished atomic.Bool
}

// New allocates a builder for n slots. An allocation the runtime refuses is
// reported as an out-of-memory error.
func New(n int) (b *Builder, err error) {
	if n < 0 {
		panic(sdkerrors.Preconditionf("output: negative length %d", n))
	}
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, sdkerrors.NewOutOfMemory(fmt.Sprintf("output: cannot allocate %d slots", n), fmt.Errorf("%v", r))
		}
	}()
	return &Builder{
		items:   make([]host.Object, n),
		written: make([]atomic.Bool, n),
	}, nil
}

// Len returns the number of slots.
func (b *Builder) Len() int { return len(b.items) }

// Written returns how many slots have been filled.
func (b *Builder) Written() int { return int(b.count.Load()) }

// SetTransfer installs v at index i. Writing an index twice, writing after
// Finish, or writing nil is a precondition violation.
func (b *Builder) SetTransfer(i int, v host.Object) {
	if b.finished.Load() {
		panic(sdkerrors.Preconditionf("output: write to index %d after finish", i))
	}
	if i < 0 || i >= len(b.items) {
		panic(sdkerrors.Preconditionf("output: index %d out of range [0, %d)", i, len(b.items)))
	}
	if v == nil {
		panic(sdkerrors.Preconditionf("output: nil value for index %d", i))
	}
	if !b.written[i].CompareAndSwap(false, true) {
		panic(sdkerrors.Preconditionf("output: index %d written twice", i))
	}
	b.items[i] = v
	b.count.Add(1)
}

// Finish returns the completed list. It fails while any slot is unwritten,
// so a partially built collection never escapes.
func (b *Builder) Finish() (*host.List, error) {
	if w := b.Written(); w != len(b.items) {
		for i := range b.written {
			if !b.written[i].Load() {
				return nil, sdkerrors.NewError(sdkerrors.CodePrecondition,
					fmt.Sprintf("output: %d of %d slots written, first missing index %d", w, len(b.items), i), nil)
			}
		}
	}
	if !b.finished.CompareAndSwap(false, true) {
		return nil, sdkerrors.Preconditionf("output: builder already finished")
	}
	return host.NewList(b.items...), nil
}
