package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// dangerousGlobals are host bindings a transform never needs.
var dangerousGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"Buffer",
	"setImmediate",
	"clearImmediate",
	"setTimeout",
	"setInterval",
}

var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Error",
	"Math",
	"JSON",
}

// sandbox applies the restrictions of a security level to a runtime.
type sandbox struct {
	level         string
	maxStackDepth int
}

func (s sandbox) apply(vm *goja.Runtime) error {
	vm.SetMaxCallStackSize(s.maxStackDepth)

	for _, name := range dangerousGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if s.level == SecurityLevelStrict {
		restricted := func(goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(newError(ErrorTypeSecurity, "eval is not allowed in strict security mode", nil)))
		}
		if err := vm.Set("eval", restricted); err != nil {
			return err
		}
	}

	if s.level == SecurityLevelPermissive {
		return nil
	}
	return s.freezeBuiltins(vm)
}

// freezeBuiltins stops one element's call from leaking state into the next
// through patched prototypes.
func (s sandbox) freezeBuiltins(vm *goja.Runtime) error {
	val, err := vm.RunString(`(function(obj) {
		if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
			Object.freeze(obj);
			if (obj.prototype) {
				Object.freeze(obj.prototype);
			}
		}
	})`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}

	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}
