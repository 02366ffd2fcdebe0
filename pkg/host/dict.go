package host

// MaxInterned bounds the intern table. Keys seen after it fills get a
// private text object.
const MaxInterned = 4096

// interned maps key strings to their shared text object. It is not
// goroutine safe on its own; every access happens under the exclusivity
// lock.
var interned = map[string]*Text{}

// Intern returns the shared text object for s, creating it on first use
// while the table has room.
func Intern(g *Guard, s string) *Text {
	mustHold(g)
	if t, ok := interned[s]; ok {
		return t
	}
	t := NewText(s)
	if len(interned) < MaxInterned {
		interned[s] = t
	}
	return t
}

// InternedCount returns the size of the intern table.
func InternedCount(g *Guard) int {
	mustHold(g)
	return len(interned)
}

// DictEntry is one key/value pair.
type DictEntry struct {
	Key   *Text
	Value Object
}

// Dict is an insertion-ordered map with interned text keys. Creating and
// filling a dict touches the intern table, so both require the guard.
type Dict struct {
	entries []DictEntry
	index   map[string]int
}

// Kind implements Object.
func (*Dict) Kind() Kind { return KindDict }

// NewDict creates a dict sized for n entries.
func NewDict(g *Guard, n int) *Dict {
	mustHold(g)
	return &Dict{
		entries: make([]DictEntry, 0, n),
		index:   make(map[string]int, n),
	}
}

// Set stores v under key, replacing any previous value.
func (d *Dict) Set(g *Guard, key string, v Object) {
	mustHold(g)
	if i, ok := d.index[key]; ok {
		d.entries[i].Value = v
		return
	}
	d.index[key] = len(d.entries)
	d.entries = append(d.entries, DictEntry{Key: Intern(g, key), Value: v})
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (Object, bool) {
	i, ok := d.index[key]
	if !ok {
		return nil, false
	}
	return d.entries[i].Value, true
}

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.entries) }

// Entries returns the entries in insertion order.
func (d *Dict) Entries() []DictEntry { return d.entries }
