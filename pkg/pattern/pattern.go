// Package pattern compiles regular expressions once per batch and exposes
// them to every worker through a single Matcher interface. Two backends are
// available: Go's RE2 engine, and regexp2 for patterns that need
// backtracking features such as lookaround and backreferences.
//
// All offsets returned by a Matcher are byte offsets into the UTF-8 input,
// whichever backend produced them. A Matcher is safe for concurrent use.
package pattern

import (
	"fmt"
	"strings"
	"time"
)

// Engine selects a regular expression backend.
type Engine string

const (
	// EngineRE2 is Go's linear-time regexp package. It is the default.
	EngineRE2 Engine = "re2"

	// EngineRegexp2 is the backtracking .NET-compatible engine.
	EngineRegexp2 Engine = "regexp2"
)

// ParseEngine maps a user-supplied name to an Engine. The empty string
// selects EngineRE2.
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "re2", "regexp":
		return EngineRE2, nil
	case "regexp2", "backtrack", "pcre":
		return EngineRegexp2, nil
	default:
		return "", fmt.Errorf("unknown regex engine %q", name)
	}
}

// Options configure compilation.
type Options struct {
	// CaseInsensitive folds case while matching.
	CaseInsensitive bool

	// Engine selects the backend; empty means EngineRE2.
	Engine Engine

	// MatchTimeout bounds a single regexp2 match. Zero means no bound.
	// RE2 matches run in linear time and ignore it.
	MatchTimeout time.Duration
}

// Matcher is a compiled pattern.
type Matcher interface {
	// Pattern returns the source the matcher was compiled from.
	Pattern() string

	// Find returns the byte span of the leftmost match.
	Find(s string) (start, end int, ok bool)

	// IsMatch reports whether s contains a match.
	IsMatch(s string) bool

	// Captures returns the spans of the leftmost match and its groups as
	// pairs of byte offsets. Groups that did not participate hold -1. The
	// result is nil when there is no match.
	Captures(s string) []int

	// Split slices s into the substrings between matches.
	Split(s string) []string

	// Replace substitutes template for the first limit matches, or all of
	// them when limit is 0. $1 and ${name} expand to group text.
	Replace(s, template string, limit int) string

	// SubexpNames returns the name of each group, with "" for group 0 and
	// for unnamed groups.
	SubexpNames() []string
}

// CompileError reports a pattern that failed to compile.
type CompileError struct {
	Pattern string
	Engine  Engine
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: cannot compile %q: %v", e.Engine, e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// MatchError reports a match that could not complete, such as a regexp2
// timeout. Matchers panic with it; the engine surfaces the panic as a
// worker fault.
type MatchError struct {
	Pattern string
	Err     error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match %q: %v", e.Pattern, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

// Compile builds a Matcher for expr.
func Compile(expr string, opts Options) (Matcher, error) {
	engine := opts.Engine
	if engine == "" {
		engine = EngineRE2
	}

	var (
		m   Matcher
		err error
	)
	switch engine {
	case EngineRE2:
		m, err = compileRE2(expr, opts)
	case EngineRegexp2:
		m, err = compileRegexp2(expr, opts)
	default:
		err = fmt.Errorf("unknown engine")
	}
	if err != nil {
		return nil, &CompileError{Pattern: expr, Engine: engine, Err: err}
	}
	return m, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(expr string, opts Options) Matcher {
	m, err := Compile(expr, opts)
	if err != nil {
		panic(err)
	}
	return m
}

// FindString returns the text of the leftmost match, or "" when there is none.
func FindString(m Matcher, s string) string {
	start, end, ok := m.Find(s)
	if !ok {
		return ""
	}
	return s[start:end]
}

// CaptureStrings returns [full, group1, ...] for the leftmost match, with ""
// for groups that did not participate. The result is empty, not nil, when
// there is no match.
func CaptureStrings(m Matcher, s string) []string {
	spans := m.Captures(s)
	out := make([]string, len(spans)/2)
	for i := range out {
		if a, b := spans[2*i], spans[2*i+1]; a >= 0 {
			out[i] = s[a:b]
		}
	}
	return out
}

// NamedCapture is one named group of a match.
type NamedCapture struct {
	Name    string
	Value   string
	Matched bool
}

// CaptureNamed returns the named groups of the leftmost match in pattern
// order, or nil when there is no match.
func CaptureNamed(m Matcher, s string) []NamedCapture {
	spans := m.Captures(s)
	if spans == nil {
		return nil
	}
	names := m.SubexpNames()
	var out []NamedCapture
	for i, name := range names {
		if name == "" || 2*i+1 >= len(spans) {
			continue
		}
		nc := NamedCapture{Name: name}
		if a, b := spans[2*i], spans[2*i+1]; a >= 0 {
			nc.Value, nc.Matched = s[a:b], true
		}
		out = append(out, nc)
	}
	return out
}

// splitAt cuts s around each match span. A pattern that matches the empty
// string splits between every character and leaves an empty first and last
// piece.
func splitAt(s string, spans [][]int) []string {
	out := make([]string, 0, len(spans)+1)
	last := 0
	for _, sp := range spans {
		out = append(out, s[last:sp[0]])
		last = sp[1]
	}
	return append(out, s[last:])
}
