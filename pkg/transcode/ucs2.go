package transcode

import "unsafe"

// UCS2ToUTF8 decodes two-byte code units to UTF-8, combining surrogate
// pairs into a single four-byte sequence. Unpaired surrogates are dropped.
// The output buffer is taken from a with the 3*len(src) upper bound.
func UCS2ToUTF8(src []uint16, a Allocator) string {
	if len(src) == 0 {
		return ""
	}
	dst := a.Alloc(3 * len(src))
	var n int
	if len(src) >= UCS2Threshold {
		n = ucs2Lanes(src, dst)
	} else {
		n = ucs2Scalar(src, dst)
	}
	if n == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(dst), n)
}

func isHighSurrogate(u uint16) bool { return u >= 0xD800 && u <= 0xDBFF }
func isLowSurrogate(u uint16) bool  { return u >= 0xDC00 && u <= 0xDFFF }

// ucs2Step encodes the unit at src[i], consuming its low surrogate partner
// when present, and returns the next read and write positions.
func ucs2Step(src []uint16, i int, dst []byte, j int) (int, int) {
	u := src[i]
	switch {
	case u < 0x80:
		dst[j] = byte(u)
		return i + 1, j + 1
	case u < 0x800:
		dst[j] = 0xC0 | byte(u>>6)
		dst[j+1] = 0x80 | byte(u&0x3F)
		return i + 1, j + 2
	case u < 0xD800 || u > 0xDFFF:
		dst[j] = 0xE0 | byte(u>>12)
		dst[j+1] = 0x80 | byte((u>>6)&0x3F)
		dst[j+2] = 0x80 | byte(u&0x3F)
		return i + 1, j + 3
	case isHighSurrogate(u) && i+1 < len(src) && isLowSurrogate(src[i+1]):
		cp := 0x10000 + (rune(u)-0xD800)<<10 + (rune(src[i+1]) - 0xDC00)
		return i + 2, j + putFour(dst[j:], cp)
	default:
		return i + 1, j
	}
}

func ucs2Scalar(src []uint16, dst []byte) int {
	i, j := 0, 0
	for i < len(src) {
		i, j = ucs2Step(src, i, dst, j)
	}
	return j
}

// ucs2Lanes narrows all-ASCII chunks directly. Mixed chunks fall back to
// ucs2Step, which reads across the chunk end so a pair split by the lane
// boundary still combines.
func ucs2Lanes(src []uint16, dst []byte) int {
	lane := laneBytes / 2
	i, j := 0, 0
	for i+lane <= len(src) {
		chunk := src[i : i+lane]
		var acc uint16
		for _, u := range chunk {
			acc |= u
		}
		if acc < 0x80 {
			for k, u := range chunk {
				dst[j+k] = byte(u)
			}
			i += lane
			j += lane
			continue
		}
		end := i + lane
		for i < end {
			i, j = ucs2Step(src, i, dst, j)
		}
	}
	for i < len(src) {
		i, j = ucs2Step(src, i, dst, j)
	}
	return j
}

func putFour(dst []byte, cp rune) int {
	dst[0] = 0xF0 | byte(cp>>18)
	dst[1] = 0x80 | byte((cp>>12)&0x3F)
	dst[2] = 0x80 | byte((cp>>6)&0x3F)
	dst[3] = 0x80 | byte(cp&0x3F)
	return 4
}
