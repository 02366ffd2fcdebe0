package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
	ErrorTypeConfig   ErrorType = "config_error"
	ErrorTypeInternal ErrorType = "internal_error"
)

// ScriptError is a structured script failure
type ScriptError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface
func (e *ScriptError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Err }

func newError(t ErrorType, message string, err error) *ScriptError {
	return &ScriptError{Type: t, Message: message, Err: err}
}

// classifyError converts a goja failure into a ScriptError
func classifyError(err error) *ScriptError {
	var se *ScriptError
	if errors.As(err, &se) {
		return se
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return newError(ErrorTypeSyntax, syntax.Error(), err)
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return newError(ErrorTypeTimeout, fmt.Sprintf("%v", interrupted.Value()), err)
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		out := newError(ErrorTypeRuntime, exc.Error(), err)
		out.Stack = exc.String()
		if msg := strings.ToLower(out.Message); strings.Contains(msg, "not allowed") {
			out.Type = ErrorTypeSecurity
		}
		return out
	}

	return newError(ErrorTypeInternal, err.Error(), err)
}
