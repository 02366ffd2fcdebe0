package host

import (
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
)

// List is an index-addressed, fixed-length collection. Writes to distinct
// indices may happen from different goroutines; a single index must have a
// single writer.
type List struct {
	items []Object
}

// Kind implements Object.
func (*List) Kind() Kind { return KindList }

// NewList wraps items. The list takes ownership of the slice.
func NewList(items ...Object) *List {
	return &List{items: items}
}

// NewTextList builds a list of text objects from Go strings.
func NewTextList(values ...string) *List {
	items := make([]Object, len(values))
	for i, v := range values {
		items[i] = NewText(v)
	}
	return &List{items: items}
}

// Len returns the number of slots.
func (l *List) Len() int { return len(l.items) }

// Get returns the object at index i.
func (l *List) Get(i int) Object {
	l.checkIndex(i)
	return l.items[i]
}

// SetTransfer installs v at index i. The caller hands over its only
// reference and must not keep using v.
func (l *List) SetTransfer(i int, v Object) {
	l.checkIndex(i)
	l.items[i] = v
}

// View returns a read-only window over the list for workers.
func (l *List) View() View { return View{list: l} }

// Strings decodes every element, which must all be text.
func (l *List) Strings() []string {
	v := l.View()
	out := make([]string, v.Len())
	for i := range out {
		out[i] = v.Text(i).String()
	}
	return out
}

func (l *List) checkIndex(i int) {
	if i < 0 || i >= len(l.items) {
		panic(sdkerrors.Preconditionf("host: index %d out of range [0, %d)", i, len(l.items)))
	}
}

// View is the read side of a List. It cannot mutate the list.
type View struct {
	list *List
}

// Len returns the number of slots.
func (v View) Len() int { return v.list.Len() }

// Text returns the text object at index i, panicking when the slot holds
// anything else.
func (v View) Text(i int) *Text {
	o := v.list.Get(i)
	t, ok := o.(*Text)
	if !ok || t == nil {
		panic(sdkerrors.Preconditionf("host: element %d is %s, not text", i, kindOf(o)))
	}
	return t
}

func kindOf(o Object) string {
	if o == nil {
		return "nil"
	}
	return o.Kind().String()
}
