package bulk

import (
	"context"

	"github.com/wehubfusion/Talos/pkg/engine"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/pattern"
)

// Find returns the first match in each element, or "" where there is none.
func (r *Runner) Find(ctx context.Context, src *host.List, expr string, opts Options) (*host.List, error) {
	m, err := r.compile(expr, opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, r, src, opts, engine.Func(func(s string) string {
		return pattern.FindString(m, s)
	}), engine.TextConverter{})
}

// IsMatch reports whether each element contains a match.
func (r *Runner) IsMatch(ctx context.Context, src *host.List, expr string, opts Options) (*host.List, error) {
	m, err := r.compile(expr, opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, r, src, opts, engine.Func(m.IsMatch), engine.BoolConverter{})
}

// Capture returns [full, group1, ...] for the first match in each element.
// Groups that did not participate are "", and elements without a match
// map to an empty list.
func (r *Runner) Capture(ctx context.Context, src *host.List, expr string, opts Options) (*host.List, error) {
	m, err := r.compile(expr, opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, r, src, opts, engine.Func(func(s string) []string {
		return pattern.CaptureStrings(m, s)
	}), engine.TextListConverter{})
}

// CaptureNamed returns a dict of the named groups of the first match in
// each element, with "" for groups that did not participate. Elements
// without a match map to an empty dict. Dicts are built on the
// coordinating goroutine.
func (r *Runner) CaptureNamed(ctx context.Context, src *host.List, expr string, opts Options) (*host.List, error) {
	m, err := r.compile(expr, opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, r, src, opts, engine.Func(func(s string) []engine.Field {
		named := pattern.CaptureNamed(m, s)
		fields := make([]engine.Field, len(named))
		for i, nc := range named {
			fields[i] = engine.Field{Name: nc.Name, Value: nc.Value}
		}
		return fields
	}), engine.DictConverter{})
}

// Split cuts each element around every match.
func (r *Runner) Split(ctx context.Context, src *host.List, expr string, opts Options) (*host.List, error) {
	m, err := r.compile(expr, opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, r, src, opts, engine.Func(m.Split), engine.TextListConverter{})
}

// Replace substitutes template for the first count matches of each
// element, or for all of them when count is 0. A negative count is a
// precondition violation.
func (r *Runner) Replace(ctx context.Context, src *host.List, expr, template string, count int, opts Options) (*host.List, error) {
	if count < 0 {
		panic(sdkerrors.Preconditionf("bulk: replace count must not be negative, got %d", count))
	}
	m, err := r.compile(expr, opts)
	if err != nil {
		return nil, err
	}
	return run(ctx, r, src, opts, engine.Func(func(s string) string {
		return m.Replace(s, template, count)
	}), engine.TextConverter{})
}
