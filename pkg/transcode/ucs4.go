package transcode

import "unsafe"

// UCS4ToUTF8 decodes four-byte code units to UTF-8. Surrogate code points
// and values past U+10FFFF are dropped. The output buffer is taken from a
// with the 4*len(src) upper bound.
func UCS4ToUTF8(src []uint32, a Allocator) string {
	if len(src) == 0 {
		return ""
	}
	dst := a.Alloc(4 * len(src))
	var n int
	if len(src) >= UCS4Threshold {
		n = ucs4Lanes(src, dst)
	} else {
		n = ucs4Scalar(src, dst)
	}
	if n == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(dst), n)
}

func ucs4Put(dst []byte, cp uint32) int {
	switch {
	case cp < 0x80:
		dst[0] = byte(cp)
		return 1
	case cp < 0x800:
		dst[0] = 0xC0 | byte(cp>>6)
		dst[1] = 0x80 | byte(cp&0x3F)
		return 2
	case cp < 0x10000:
		if cp >= 0xD800 && cp <= 0xDFFF {
			return 0
		}
		dst[0] = 0xE0 | byte(cp>>12)
		dst[1] = 0x80 | byte((cp>>6)&0x3F)
		dst[2] = 0x80 | byte(cp&0x3F)
		return 3
	case cp <= 0x10FFFF:
		return putFour(dst, rune(cp))
	default:
		return 0
	}
}

func ucs4Scalar(src []uint32, dst []byte) int {
	j := 0
	for _, cp := range src {
		j += ucs4Put(dst[j:], cp)
	}
	return j
}

func ucs4Lanes(src []uint32, dst []byte) int {
	lane := laneBytes / 4
	i, j := 0, 0
	for ; i+lane <= len(src); i += lane {
		chunk := src[i : i+lane]
		var acc uint32
		for _, cp := range chunk {
			acc |= cp
		}
		if acc < 0x80 {
			for k, cp := range chunk {
				dst[j+k] = byte(cp)
			}
			j += lane
			continue
		}
		j += ucs4Scalar(chunk, dst[j:])
	}
	return j + ucs4Scalar(src[i:], dst[j:])
}
