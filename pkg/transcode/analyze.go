package transcode

import (
	"encoding/binary"
	"math/bits"
	"unicode/utf8"
)

// Width is the size in bytes of one code unit.
type Width uint8

const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
)

// WidthFor returns the narrowest width that can hold maxCodePoint.
func WidthFor(maxCodePoint rune) Width {
	switch {
	case maxCodePoint <= 0xFF:
		return Width1
	case maxCodePoint <= 0xFFFF:
		return Width2
	default:
		return Width4
	}
}

// Analysis is the result of one pass over a UTF-8 string.
type Analysis struct {
	// Chars is the number of code points.
	Chars int
	// MaxCodePoint is the largest code point seen, 0 for the empty string.
	MaxCodePoint rune
}

// ASCII reports whether the analysed string was pure ASCII.
func (a Analysis) ASCII() bool { return a.MaxCodePoint < 0x80 }

// Width returns the minimal code unit width for the analysed string.
func (a Analysis) Width() Width { return WidthFor(a.MaxCodePoint) }

// Analyze counts code points and finds the maximum code point of s in a
// single pass. s must be valid UTF-8.
func Analyze(s string) Analysis {
	if len(s) >= AnalyzeThreshold {
		return analyzeLanes(s)
	}
	return analyzeScalar(s, 0, Analysis{})
}

// analyzeScalar continues an analysis from byte offset i, which may point
// into the middle of a character.
func analyzeScalar(s string, i int, a Analysis) Analysis {
	for ; i < len(s); i++ {
		c := s[i]
		if c < 0x80 {
			a.Chars++
			a.MaxCodePoint = max(a.MaxCodePoint, rune(c))
			continue
		}
		if c&0xC0 == 0x80 {
			continue
		}
		a.Chars++
		if leadMayRaise(c, a.MaxCodePoint) {
			r, _ := utf8.DecodeRuneInString(s[i:])
			a.MaxCodePoint = max(a.MaxCodePoint, r)
		}
	}
	return a
}

// leadMayRaise reports whether a character starting with lead byte c can
// exceed cur. Two-byte leads top out at 0x7FF, three-byte at 0xFFFF.
func leadMayRaise(c byte, cur rune) bool {
	switch {
	case c < 0xE0:
		return cur < 0x7FF
	case c < 0xF0:
		return cur < 0xFFFF
	default:
		return true
	}
}

func analyzeLanes(s string) Analysis {
	b := bytesOf(s)
	lane := laneBytes
	var a Analysis
	i := 0
	for ; i+lane <= len(b); i += lane {
		chunk := b[i : i+lane]
		if asciiChunk(chunk) {
			a.Chars += lane
			if a.MaxCodePoint < 0x7F {
				a.MaxCodePoint = max(a.MaxCodePoint, rune(maxByte(chunk)))
			}
			continue
		}
		for k := 0; k < lane; k += 8 {
			w := binary.LittleEndian.Uint64(chunk[k:])
			high := w & hiBits
			second := (w << 1) & hiBits
			cont := high &^ second
			a.Chars += 8 - bits.OnesCount64(cont)
			// Leads are 11xxxxxx. A mixed chunk implies a code point of at
			// least 0x80 somewhere, so its ASCII bytes never matter.
			leads := high & second
			for leads != 0 {
				p := i + k + bits.TrailingZeros64(leads)/8
				if leadMayRaise(b[p], a.MaxCodePoint) {
					r, _ := utf8.DecodeRuneInString(s[p:])
					a.MaxCodePoint = max(a.MaxCodePoint, r)
				}
				leads &= leads - 1
			}
		}
	}
	return analyzeScalar(s, i, a)
}

// UCS2Units returns the number of two-byte units needed to hold s, counting
// a surrogate pair for every code point above U+FFFF.
func UCS2Units(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c&0xC0 == 0x80:
		case c >= 0xF0:
			n += 2
		default:
			n++
		}
	}
	return n
}
