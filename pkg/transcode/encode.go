package transcode

import "unicode/utf8"

// UTF8ToUCS1 writes s as one-byte units into dst and returns the number of
// units written. Every code point of s must be at most 0xFF and dst must
// hold Analyze(s).Chars units.
func UTF8ToUCS1(s string, dst []byte) int {
	if len(s) >= AnalyzeThreshold {
		return encodeLanes(s, dst, ucs1Put)
	}
	return encodeScalar(s, 0, dst, 0, ucs1Put)
}

// UTF8ToUCS2 writes s as two-byte units into dst, splitting code points
// above U+FFFF into surrogate pairs. dst must hold UCS2Units(s) units.
func UTF8ToUCS2(s string, dst []uint16) int {
	if len(s) >= AnalyzeThreshold {
		return encodeLanes(s, dst, ucs2Put)
	}
	return encodeScalar(s, 0, dst, 0, ucs2Put)
}

// UTF8ToUCS4 writes s as four-byte units into dst. dst must hold
// Analyze(s).Chars units.
func UTF8ToUCS4(s string, dst []uint32) int {
	if len(s) >= AnalyzeThreshold {
		return encodeLanes(s, dst, ucs4Store)
	}
	return encodeScalar(s, 0, dst, 0, ucs4Store)
}

type unit interface {
	~uint8 | ~uint16 | ~uint32
}

func ucs1Put(dst []byte, j int, r rune) int {
	dst[j] = byte(r)
	return j + 1
}

func ucs2Put(dst []uint16, j int, r rune) int {
	if r <= 0xFFFF {
		dst[j] = uint16(r)
		return j + 1
	}
	r -= 0x10000
	dst[j] = uint16(0xD800 + (r >> 10))
	dst[j+1] = uint16(0xDC00 + (r & 0x3FF))
	return j + 2
}

func ucs4Store(dst []uint32, j int, r rune) int {
	dst[j] = uint32(r)
	return j + 1
}

// encodeScalar decodes s from byte offset i and stores each code point
// through put. i must sit on a character boundary.
func encodeScalar[U unit](s string, i int, dst []U, j int, put func([]U, int, rune) int) int {
	for i < len(s) {
		c := s[i]
		if c < 0x80 {
			dst[j] = U(c)
			i++
			j++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		j = put(dst, j, r)
		i += size
	}
	return j
}

// encodeLanes widens all-ASCII chunks unit by unit and decodes mixed chunks
// character by character. A character straddling the chunk end is decoded
// whole, so the next chunk starts wherever that character ends.
func encodeLanes[U unit](s string, dst []U, put func([]U, int, rune) int) int {
	b := bytesOf(s)
	lane := laneBytes
	i, j := 0, 0
	for i+lane <= len(b) {
		chunk := b[i : i+lane]
		if asciiChunk(chunk) {
			for k, c := range chunk {
				dst[j+k] = U(c)
			}
			i += lane
			j += lane
			continue
		}
		end := i + lane
		for i < end {
			c := b[i]
			if c < 0x80 {
				dst[j] = U(c)
				i++
				j++
				continue
			}
			r, size := utf8.DecodeRuneInString(s[i:])
			j = put(dst, j, r)
			i += size
		}
	}
	return encodeScalar(s, i, dst, j, put)
}
