package iteration

import (
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
)

// Range is a half-open span [Start, End) of element indices owned by one worker.
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// Workers clamps jobs to the number of elements so no worker gets an empty
// range. It returns 0 only when length is 0.
func Workers(length, jobs int) int {
	if jobs <= 0 {
		panic(sdkerrors.Preconditionf("iteration: jobs must be at least 1, got %d", jobs))
	}
	if length < 0 {
		panic(sdkerrors.Preconditionf("iteration: negative length %d", length))
	}
	return min(jobs, length)
}

// RangeFor returns the range of worker i when length elements are split
// across jobs workers. The first length%jobs workers get one extra element.
func RangeFor(length, jobs, i int) Range {
	n := Workers(length, jobs)
	if i < 0 || i >= n {
		panic(sdkerrors.Preconditionf("iteration: worker index %d out of range [0, %d)", i, n))
	}
	base, rem := length/n, length%n
	start := i*base + min(i, rem)
	size := base
	if i < rem {
		size++
	}
	return Range{Start: start, End: start + size}
}

// Ranges returns the ranges of all workers in order. Their union is exactly
// [0, length) and they do not overlap.
func Ranges(length, jobs int) []Range {
	n := Workers(length, jobs)
	out := make([]Range, n)
	for i := range out {
		out[i] = RangeFor(length, n, i)
	}
	return out
}
