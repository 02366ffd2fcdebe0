package bulk

import (
	"context"

	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/pkg/engine"
	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/host"
	"github.com/wehubfusion/Talos/pkg/script"
)

// Script applies a JavaScript function to every element. The script is
// compiled and checked before dispatch; each worker then evaluates it in a
// runtime of its own. A throw or timeout in any call fails the batch.
func (r *Runner) Script(ctx context.Context, src *host.List, cfg script.Config, opts Options) (*host.List, error) {
	prog, err := script.Compile(cfg)
	if err != nil {
		r.logger.Debug("script rejected", zap.Error(err))
		return nil, sdkerrors.NewScriptCompile(err)
	}

	factory := func() engine.Transform[string] {
		runner, err := prog.NewRunner()
		if err != nil {
			panic(err)
		}
		return runner.MustCall
	}
	return run(ctx, r, src, opts, factory, engine.TextConverter{})
}
