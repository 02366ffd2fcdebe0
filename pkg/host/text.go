package host

import (
	"strings"
	"unicode/utf8"

	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/transcode"
)

// Text is an immutable run of code units of one fixed width. Exactly one of
// the unit slices is set, matching width.
type Text struct {
	width transcode.Width
	maxCP rune
	ucs1  []byte
	ucs2  []uint16
	ucs4  []uint32
}

// Kind implements Object.
func (*Text) Kind() Kind { return KindText }

// NewText encodes s at the narrowest width that holds its largest code point.
// Invalid UTF-8 sequences become U+FFFD.
func NewText(s string) *Text {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	a := transcode.Analyze(s)
	switch a.Width() {
	case transcode.Width1:
		units := make([]byte, a.Chars)
		if a.ASCII() {
			copy(units, s)
		} else {
			transcode.UTF8ToUCS1(s, units)
		}
		return &Text{width: transcode.Width1, maxCP: a.MaxCodePoint, ucs1: units}
	case transcode.Width2:
		units := make([]uint16, a.Chars)
		transcode.UTF8ToUCS2(s, units)
		return &Text{width: transcode.Width2, maxCP: a.MaxCodePoint, ucs2: units}
	default:
		units := make([]uint32, a.Chars)
		transcode.UTF8ToUCS4(s, units)
		return &Text{width: transcode.Width4, maxCP: a.MaxCodePoint, ucs4: units}
	}
}

// NewUCS1 wraps one-byte units. The text takes ownership of units.
func NewUCS1(units []byte) *Text {
	var m byte
	for _, u := range units {
		m = max(m, u)
	}
	return &Text{width: transcode.Width1, maxCP: rune(m), ucs1: units}
}

// NewUCS2 wraps two-byte units, which may contain surrogate pairs. The text
// takes ownership of units.
func NewUCS2(units []uint16) *Text {
	var m rune
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if u >= 0xD800 && u <= 0xDBFF && i+1 < len(units) && units[i+1] >= 0xDC00 && units[i+1] <= 0xDFFF {
			u = 0x10000 + (u-0xD800)<<10 + (rune(units[i+1]) - 0xDC00)
			i++
		}
		m = max(m, u)
	}
	return &Text{width: transcode.Width2, maxCP: m, ucs2: units}
}

// NewUCS4 wraps four-byte units. The text takes ownership of units.
func NewUCS4(units []uint32) *Text {
	var m uint32
	for _, u := range units {
		m = max(m, u)
	}
	return &Text{width: transcode.Width4, maxCP: rune(m), ucs4: units}
}

// Width returns the code unit width.
func (t *Text) Width() transcode.Width { return t.width }

// MaxCodePoint returns the largest code point in the text.
func (t *Text) MaxCodePoint() rune { return t.maxCP }

// Len returns the number of code units.
func (t *Text) Len() int {
	switch t.width {
	case transcode.Width1:
		return len(t.ucs1)
	case transcode.Width2:
		return len(t.ucs2)
	default:
		return len(t.ucs4)
	}
}

// UCS1 returns the one-byte units. The slice must not be modified.
func (t *Text) UCS1() []byte {
	t.mustBe(transcode.Width1)
	return t.ucs1
}

// UCS2 returns the two-byte units. The slice must not be modified.
func (t *Text) UCS2() []uint16 {
	t.mustBe(transcode.Width2)
	return t.ucs2
}

// UCS4 returns the four-byte units. The slice must not be modified.
func (t *Text) UCS4() []uint32 {
	t.mustBe(transcode.Width4)
	return t.ucs4
}

func (t *Text) mustBe(w transcode.Width) {
	if t.width != w {
		panic(sdkerrors.Preconditionf("host: text has width %d, not %d", t.width, w))
	}
}

// Decode returns the UTF-8 form of the text. One-byte ASCII text is returned
// as a view over its own units; anything else is written into a.
func (t *Text) Decode(a transcode.Allocator) string {
	switch t.width {
	case transcode.Width1:
		return transcode.UCS1ToUTF8(t.ucs1, a)
	case transcode.Width2:
		return transcode.UCS2ToUTF8(t.ucs2, a)
	default:
		return transcode.UCS4ToUTF8(t.ucs4, a)
	}
}

// String returns the UTF-8 form of the text on the heap.
func (t *Text) String() string {
	return t.Decode(transcode.Heap)
}

// Equal reports whether both texts hold the same code points.
func (t *Text) Equal(o *Text) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.width == transcode.Width1 && o.width == transcode.Width1 {
		return string(t.ucs1) == string(o.ucs1)
	}
	return t.String() == o.String()
}
