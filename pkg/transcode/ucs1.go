package transcode

import (
	"encoding/binary"
	"math/bits"
	"unsafe"
)

// latin1 maps 0x80..0xFF to their two-byte UTF-8 sequences.
var latin1 = func() (t [128][2]byte) {
	for i := range t {
		c := 0x80 + i
		t[i] = [2]byte{0xC0 | byte(c>>6), 0x80 | byte(c&0x3F)}
	}
	return t
}()

// UCS1ToUTF8 decodes one-byte code units (Latin-1) to UTF-8. Pure ASCII
// input is returned as a view over src without allocating. Otherwise exactly
// len(src)+nonASCII(src) bytes are taken from a.
func UCS1ToUTF8(src []byte, a Allocator) string {
	if len(src) == 0 {
		return ""
	}
	lanes := len(src) >= UCS1Threshold
	var extra int
	if lanes {
		extra = nonASCIILanes(src)
	} else {
		extra = nonASCIIScalar(src)
	}
	if extra == 0 {
		return unsafe.String(unsafe.SliceData(src), len(src))
	}
	dst := a.Alloc(len(src) + extra)
	var n int
	if lanes {
		n = ucs1Lanes(src, dst)
	} else {
		n = ucs1Scalar(src, dst)
	}
	return unsafe.String(unsafe.SliceData(dst), n)
}

func nonASCIIScalar(src []byte) int {
	n := 0
	for _, c := range src {
		n += int(c >> 7)
	}
	return n
}

func nonASCIILanes(src []byte) int {
	n, i := 0, 0
	for ; i+8 <= len(src); i += 8 {
		n += bits.OnesCount64(binary.LittleEndian.Uint64(src[i:]) & hiBits)
	}
	return n + nonASCIIScalar(src[i:])
}

func ucs1Scalar(src, dst []byte) int {
	j := 0
	for _, c := range src {
		if c < 0x80 {
			dst[j] = c
			j++
			continue
		}
		seq := latin1[c-0x80]
		dst[j], dst[j+1] = seq[0], seq[1]
		j += 2
	}
	return j
}

func ucs1Lanes(src, dst []byte) int {
	lane := laneBytes
	i, j := 0, 0
	for ; i+lane <= len(src); i += lane {
		chunk := src[i : i+lane]
		if asciiChunk(chunk) {
			j += copy(dst[j:], chunk)
			continue
		}
		j += ucs1Scalar(chunk, dst[j:])
	}
	return j + ucs1Scalar(src[i:], dst[j:])
}
