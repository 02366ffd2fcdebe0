// Package transcode converts between fixed-width code-unit text (1, 2 or 4
// bytes per unit) and UTF-8. Every codec has a lane path that walks the
// input in SIMD-register-sized chunks using word-at-a-time ASCII checks, and
// a scalar path used below a per-codec size threshold.
package transcode

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Size thresholds at or above which the lane path is used.
const (
	// AnalyzeThreshold applies to Analyze and the UTF-8 encoders, in bytes.
	AnalyzeThreshold = 64
	// UCS1Threshold applies to UCS1ToUTF8, in code units.
	UCS1Threshold = 96
	// UCS2Threshold applies to UCS2ToUTF8, in code units.
	UCS2Threshold = 48
	// UCS4Threshold applies to UCS4ToUTF8, in code units.
	UCS4Threshold = 32
)

const hiBits = 0x8080808080808080

// laneBytes is the chunk size of the lane path: the widest vector register
// the CPU offers, in bytes.
var laneBytes = detectLaneBytes()

func detectLaneBytes() int {
	switch {
	case cpu.X86.HasAVX512BW:
		return 64
	case cpu.X86.HasAVX2:
		return 32
	default:
		return 16
	}
}

// LaneBytes reports the chunk size chosen for this CPU.
func LaneBytes() int { return laneBytes }

// bytesOf views s as a read-only byte slice.
func bytesOf(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// asciiChunk reports whether every byte of b, whose length is a multiple of
// eight, is below 0x80.
func asciiChunk(b []byte) bool {
	var acc uint64
	for i := 0; i+8 <= len(b); i += 8 {
		acc |= binary.LittleEndian.Uint64(b[i:])
	}
	return acc&hiBits == 0
}

// maxByte reduces b to its largest byte.
func maxByte(b []byte) byte {
	var m byte
	for _, c := range b {
		m = max(m, c)
	}
	return m
}
