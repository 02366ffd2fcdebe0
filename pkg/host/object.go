// Package host models the object runtime the engine reads from and writes
// into: immutable fixed-width text objects, index-addressed lists, dicts
// whose keys live in a shared intern table, and the single global
// exclusivity lock that serializes access to that shared state.
package host

import (
	"fmt"
)

// Kind identifies the concrete type of an Object.
type Kind int

const (
	KindText Kind = iota
	KindBool
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Object is any value a host collection can hold.
type Object interface {
	Kind() Kind
}

// Bool is the host boolean.
type Bool bool

// Kind implements Object.
func (Bool) Kind() Kind { return KindBool }

// ToGo converts an object graph into plain Go values: string, bool, []any
// and map[string]any.
func ToGo(o Object) any {
	switch v := o.(type) {
	case nil:
		return nil
	case *Text:
		return v.String()
	case Bool:
		return bool(v)
	case *List:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = ToGo(v.Get(i))
		}
		return out
	case *Dict:
		out := make(map[string]any, v.Len())
		for _, e := range v.entries {
			out[e.Key.String()] = ToGo(e.Value)
		}
		return out
	default:
		return fmt.Sprintf("%v", o)
	}
}
