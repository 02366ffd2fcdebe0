package pattern

import (
	"strconv"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// regexp2Matcher wraps a regexp2 expression. regexp2 reports positions in
// runes; every span is translated back to byte offsets before it leaves
// this file.
type regexp2Matcher struct {
	expr  string
	re    *regexp2.Regexp
	names []string
}

func compileRegexp2(expr string, opts Options) (*regexp2Matcher, error) {
	var flags regexp2.RegexOptions
	if opts.CaseInsensitive {
		flags |= regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(expr, flags)
	if err != nil {
		return nil, err
	}
	if opts.MatchTimeout > 0 {
		re.MatchTimeout = opts.MatchTimeout
	}

	groups := len(re.GetGroupNumbers())
	names := make([]string, groups)
	for i := 1; i < groups; i++ {
		if name := re.GroupNameFromNumber(i); name != strconv.Itoa(i) {
			names[i] = name
		}
	}
	return &regexp2Matcher{expr: expr, re: re, names: names}, nil
}

func (m *regexp2Matcher) Pattern() string { return m.expr }

func (m *regexp2Matcher) SubexpNames() []string { return m.names }

func (m *regexp2Matcher) first(s string) *regexp2.Match {
	match, err := m.re.FindStringMatch(s)
	if err != nil {
		panic(&MatchError{Pattern: m.expr, Err: err})
	}
	return match
}

func (m *regexp2Matcher) next(match *regexp2.Match) *regexp2.Match {
	match, err := m.re.FindNextMatch(match)
	if err != nil {
		panic(&MatchError{Pattern: m.expr, Err: err})
	}
	return match
}

func (m *regexp2Matcher) Find(s string) (int, int, bool) {
	match := m.first(s)
	if match == nil {
		return 0, 0, false
	}
	off := newOffsets(s)
	return off.byteAt(match.Index), off.byteAt(match.Index + match.Length), true
}

func (m *regexp2Matcher) IsMatch(s string) bool {
	ok, err := m.re.MatchString(s)
	if err != nil {
		panic(&MatchError{Pattern: m.expr, Err: err})
	}
	return ok
}

func (m *regexp2Matcher) Captures(s string) []int {
	match := m.first(s)
	if match == nil {
		return nil
	}
	off := newOffsets(s)
	groups := match.Groups()
	spans := make([]int, 2*len(groups))
	for i, g := range groups {
		if len(g.Captures) == 0 {
			spans[2*i], spans[2*i+1] = -1, -1
			continue
		}
		spans[2*i] = off.byteAt(g.Index)
		spans[2*i+1] = off.byteAt(g.Index + g.Length)
	}
	return spans
}

// Split skips an empty match that abuts the previous match, as the RE2
// engine does, so both engines cut the same way.
func (m *regexp2Matcher) Split(s string) []string {
	off := newOffsets(s)
	var spans [][]int
	prevEnd := -1
	for match := m.first(s); match != nil; match = m.next(match) {
		start, stop := off.byteAt(match.Index), off.byteAt(match.Index+match.Length)
		if start == stop && start == prevEnd {
			continue
		}
		spans = append(spans, []int{start, stop})
		prevEnd = stop
	}
	return splitAt(s, spans)
}

func (m *regexp2Matcher) Replace(s, template string, limit int) string {
	count := limit
	if count <= 0 {
		count = -1
	}
	out, err := m.re.Replace(s, template, -1, count)
	if err != nil {
		panic(&MatchError{Pattern: m.expr, Err: err})
	}
	return out
}

// offsets maps rune indices to byte offsets. ASCII input maps to itself.
type offsets struct {
	bytes []int
}

func newOffsets(s string) offsets {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return offsets{}
	}
	b := make([]int, 0, utf8.RuneCountInString(s)+1)
	for i := range s {
		b = append(b, i)
	}
	return offsets{bytes: append(b, len(s))}
}

func (o offsets) byteAt(r int) int {
	if o.bytes == nil {
		return r
	}
	return o.bytes[r]
}
