package pattern

import (
	"regexp"
	"strings"
)

type re2Matcher struct {
	expr string
	re   *regexp.Regexp
}

func compileRE2(expr string, opts Options) (*re2Matcher, error) {
	src := expr
	if opts.CaseInsensitive {
		src = "(?i)" + expr
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	return &re2Matcher{expr: expr, re: re}, nil
}

func (m *re2Matcher) Pattern() string { return m.expr }

func (m *re2Matcher) Find(s string) (int, int, bool) {
	loc := m.re.FindStringIndex(s)
	if loc == nil {
		return 0, 0, false
	}
	return loc[0], loc[1], true
}

func (m *re2Matcher) IsMatch(s string) bool { return m.re.MatchString(s) }

func (m *re2Matcher) Captures(s string) []int { return m.re.FindStringSubmatchIndex(s) }

func (m *re2Matcher) Split(s string) []string { return splitAt(s, m.re.FindAllStringIndex(s, -1)) }

func (m *re2Matcher) SubexpNames() []string { return m.re.SubexpNames() }

// Replace expands template for each of the first limit matches.
func (m *re2Matcher) Replace(s, template string, limit int) string {
	n := limit
	if n <= 0 {
		n = -1
	}
	matches := m.re.FindAllStringSubmatchIndex(s, n)
	if len(matches) == 0 {
		return s
	}

	var out strings.Builder
	out.Grow(len(s))
	var buf []byte
	last := 0
	for _, match := range matches {
		out.WriteString(s[last:match[0]])
		buf = m.re.ExpandString(buf[:0], template, s, match)
		out.Write(buf)
		last = match[1]
	}
	out.WriteString(s[last:])
	return out.String()
}
