package bulk

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Talos/pkg/engine"
	"github.com/wehubfusion/Talos/pkg/host"
)

// Copy rebuilds every element unchanged.
func (r *Runner) Copy(ctx context.Context, src *host.List, opts Options) (*host.List, error) {
	return run(ctx, r, src, opts, engine.Func(func(s string) string { return s }), engine.TextConverter{})
}

// ASCIIUpper upper-cases elements that are pure ASCII and leaves every
// other element as it is.
func (r *Runner) ASCIIUpper(ctx context.Context, src *host.List, opts Options) (*host.List, error) {
	return run(ctx, r, src, opts, engine.Func(asciiUpper), engine.TextConverter{})
}

func asciiUpper(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return s
		}
	}
	return strings.ToUpper(s)
}

// Upper maps every element to upper case using the rules of tag.
func (r *Runner) Upper(ctx context.Context, src *host.List, tag language.Tag, opts Options) (*host.List, error) {
	return run(ctx, r, src, opts, caser(func() cases.Caser { return cases.Upper(tag) }), engine.TextConverter{})
}

// Lower maps every element to lower case using the rules of tag.
func (r *Runner) Lower(ctx context.Context, src *host.List, tag language.Tag, opts Options) (*host.List, error) {
	return run(ctx, r, src, opts, caser(func() cases.Caser { return cases.Lower(tag) }), engine.TextConverter{})
}

// Title maps every element to title case using the rules of tag.
func (r *Runner) Title(ctx context.Context, src *host.List, tag language.Tag, opts Options) (*host.List, error) {
	return run(ctx, r, src, opts, caser(func() cases.Caser { return cases.Title(tag) }), engine.TextConverter{})
}

// caser gives each worker its own Caser; a Caser carries state and must
// not be shared.
func caser(newCaser func() cases.Caser) engine.TransformFactory[string] {
	return func() engine.Transform[string] {
		c := newCaser()
		return c.String
	}
}
