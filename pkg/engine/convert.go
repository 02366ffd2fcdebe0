package engine

import (
	"strings"

	"github.com/wehubfusion/Talos/pkg/host"
)

// Transform is applied to the UTF-8 view of one element. The view is only
// valid for the duration of the call; anything returned that still points
// into it must be copied by the converter before the next element.
type Transform[T any] func(s string) T

// TransformFactory builds one Transform per worker, so per-worker state is
// never shared.
type TransformFactory[T any] func() Transform[T]

// Func adapts a stateless function into a TransformFactory.
func Func[T any](fn func(string) T) TransformFactory[T] {
	return func() Transform[T] { return fn }
}

// Converter turns a transform result into a host object. ThreadSafe is a
// property of the output type: when it is false, Convert runs on the
// coordinating goroutine with the exclusivity guard held, otherwise it runs
// inside the worker with a nil guard.
type Converter[T any] interface {
	ThreadSafe() bool
	Convert(v T, g *host.Guard) host.Object
}

// Detacher is implemented by converters whose raw values may borrow the
// worker's arena. Detach runs in the worker before the value is queued for
// the coordinator.
type Detacher[T any] interface {
	Detach(v T) T
}

// TextConverter builds text objects from strings.
type TextConverter struct{}

func (TextConverter) ThreadSafe() bool { return true }

func (TextConverter) Convert(v string, _ *host.Guard) host.Object { return host.NewText(v) }

// BoolConverter builds host booleans.
type BoolConverter struct{}

func (BoolConverter) ThreadSafe() bool { return true }

func (BoolConverter) Convert(v bool, _ *host.Guard) host.Object { return host.Bool(v) }

// TextListConverter builds a list of text objects from a string slice.
type TextListConverter struct{}

func (TextListConverter) ThreadSafe() bool { return true }

func (TextListConverter) Convert(v []string, _ *host.Guard) host.Object {
	return host.NewTextList(v...)
}

// Field is one named value of a dict result.
type Field struct {
	Name  string
	Value string
}

// DictConverter builds dicts. Dict keys go through the shared intern table,
// so conversion needs the exclusivity guard.
type DictConverter struct{}

func (DictConverter) ThreadSafe() bool { return false }

func (DictConverter) Convert(v []Field, g *host.Guard) host.Object {
	d := host.NewDict(g, len(v))
	for _, f := range v {
		d.Set(g, f.Name, host.NewText(f.Value))
	}
	return d
}

// Detach copies every string off the arena.
func (DictConverter) Detach(v []Field) []Field {
	out := make([]Field, len(v))
	for i, f := range v {
		out[i] = Field{Name: strings.Clone(f.Name), Value: strings.Clone(f.Value)}
	}
	return out
}
