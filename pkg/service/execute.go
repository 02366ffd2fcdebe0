package service

import (
	"context"
	"fmt"

	"golang.org/x/text/language"

	"github.com/wehubfusion/Talos/pkg/bulk"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/pattern"
)

// Execute runs one validated task over its items and returns the result
// list.
func Execute(ctx context.Context, r *bulk.Runner, t *Task) (*host.List, error) {
	// The list is built for this call only, so results may replace it.
	return ExecuteList(ctx, r, t, host.NewTextList(t.Items...), true)
}

// ExecuteList runs t over src instead of t.Items.
func ExecuteList(ctx context.Context, r *bulk.Runner, t *Task, src *host.List, inPlace bool) (*host.List, error) {
	eng, err := pattern.ParseEngine(string(t.Engine))
	if err != nil {
		return nil, sdkerrors.NewInvalidRequest(err.Error())
	}
	opts := bulk.Options{
		Jobs:            t.Jobs,
		CaseInsensitive: t.CaseInsensitive,
		Engine:          eng,
		MatchTimeout:    t.matchTimeout(),
		InPlace:         inPlace,
	}

	switch t.Op {
	case OpFind:
		return r.Find(ctx, src, t.Pattern, opts)
	case OpIsMatch:
		return r.IsMatch(ctx, src, t.Pattern, opts)
	case OpCapture:
		return r.Capture(ctx, src, t.Pattern, opts)
	case OpCaptureNamed:
		return r.CaptureNamed(ctx, src, t.Pattern, opts)
	case OpSplit:
		return r.Split(ctx, src, t.Pattern, opts)
	case OpReplace:
		return r.Replace(ctx, src, t.Pattern, t.Template, t.ReplaceCount(), opts)
	case OpCopy:
		return r.Copy(ctx, src, opts)
	case OpASCIIUpper:
		return r.ASCIIUpper(ctx, src, opts)
	case OpUpper, OpLower, OpTitle:
		tag, err := parseLocale(t.Locale)
		if err != nil {
			return nil, err
		}
		switch t.Op {
		case OpUpper:
			return r.Upper(ctx, src, tag, opts)
		case OpLower:
			return r.Lower(ctx, src, tag, opts)
		default:
			return r.Title(ctx, src, tag, opts)
		}
	case OpScript:
		if t.Script == nil {
			return nil, sdkerrors.NewInvalidRequest("op \"script\" requires a script")
		}
		return r.Script(ctx, src, *t.Script, opts)
	default:
		return nil, sdkerrors.NewInvalidRequest(fmt.Sprintf("unknown op %q", t.Op))
	}
}

func parseLocale(locale string) (language.Tag, error) {
	if locale == "" {
		return language.Und, nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.Und, sdkerrors.NewError(sdkerrors.CodeInvalidRequest, fmt.Sprintf("invalid locale %q", locale), err)
	}
	return tag, nil
}

// toResults converts a result list into JSON-ready values.
func toResults(l *host.List) []any {
	out, _ := host.ToGo(l).([]any)
	if out == nil {
		out = []any{}
	}
	return out
}
