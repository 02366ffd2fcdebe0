// Package script runs user JavaScript as an element transform. A Program is
// compiled once per batch; each worker builds its own Runner, since a goja
// runtime must never be shared between goroutines.
package script

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
)

// Program is a compiled, validated transform function.
type Program struct {
	config  Config
	program *goja.Program
	runners atomic.Int64
}

// Compile validates cfg, compiles its source and checks that it evaluates
// to a function in a sandboxed runtime.
func Compile(cfg Config) (*Program, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, newError(ErrorTypeConfig, err.Error(), err)
	}

	prog, err := goja.Compile("transform.js", "("+cfg.Source+"\n)", true)
	if err != nil {
		return nil, classifyError(err)
	}

	p := &Program{config: cfg, program: prog}
	if _, err := p.NewRunner(); err != nil {
		return nil, err
	}
	p.runners.Store(0)
	return p, nil
}

// Config returns the effective configuration.
func (p *Program) Config() Config { return p.config }

// RunnersCreated returns how many runners the program has handed out.
func (p *Program) RunnersCreated() int64 { return p.runners.Load() }

// Runner owns one runtime and the transform function evaluated in it. It
// is not safe for concurrent use.
type Runner struct {
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
	calls   int64
}

// NewRunner builds a sandboxed runtime and evaluates the program in it.
func (p *Program) NewRunner() (*Runner, error) {
	vm := goja.New()
	sb := sandbox{level: p.config.SecurityLevel, maxStackDepth: p.config.MaxStackDepth}
	if err := sb.apply(vm); err != nil {
		return nil, newError(ErrorTypeInternal, err.Error(), err)
	}

	val, err := vm.RunProgram(p.program)
	if err != nil {
		return nil, classifyError(err)
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, newError(ErrorTypeConfig, fmt.Sprintf("script evaluates to %s, not a function", describe(val)), nil)
	}

	p.runners.Add(1)
	return &Runner{vm: vm, fn: fn, timeout: p.config.Timeout}, nil
}

// Call applies the function to s. null and undefined results become the
// empty string; anything else is converted with JavaScript's String().
func (r *Runner) Call(s string) (out string, err error) {
	r.calls++
	r.vm.ClearInterrupt()
	timer := time.AfterFunc(r.timeout, func() {
		r.vm.Interrupt(fmt.Sprintf("execution timeout after %s", r.timeout))
	})
	defer func() {
		timer.Stop()
		r.vm.ClearInterrupt()
	}()

	val, err := r.fn(goja.Undefined(), r.vm.ToValue(s))
	if err != nil {
		return "", classifyError(err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return "", nil
	}
	return val.String(), nil
}

// MustCall is Call that panics with the *ScriptError. Inside a batch the
// panic fails the whole batch as a worker fault.
func (r *Runner) MustCall(s string) string {
	out, err := r.Call(s)
	if err != nil {
		panic(err)
	}
	return out
}

// Calls returns how many times the runner has been called.
func (r *Runner) Calls() int64 { return r.calls }

func describe(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	return fmt.Sprintf("a %s", v.ExportType())
}
