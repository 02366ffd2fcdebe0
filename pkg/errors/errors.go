package errors

import (
	"errors"
	"fmt"
)

// Error codes surfaced by the engine and the operations built on it.
const (
	// CodePrecondition marks a programming error such as zero jobs or an
	// out-of-range worker index. These are raised as panics.
	CodePrecondition = "PRECONDITION"

	// CodeOutOfMemory marks an arena or output allocation that could not be served.
	CodeOutOfMemory = "OUT_OF_MEMORY"

	// CodePatternCompile marks a pattern that failed to compile before dispatch.
	CodePatternCompile = "PATTERN_COMPILE"

	// CodeScriptCompile marks a script that failed to compile or validate
	// before dispatch.
	CodeScriptCompile = "SCRIPT_COMPILE"

	// CodeWorkerFault marks a panic inside a worker; the whole batch fails.
	CodeWorkerFault = "WORKER_FAULT"

	// CodeInvalidRequest marks a malformed service or CLI request.
	CodeInvalidRequest = "INVALID_REQUEST"

	// CodeCancelled marks a batch stopped by its context.
	CodeCancelled = "CANCELLED"

	// CodeOffload marks a reply that could not be written to blob storage.
	CodeOffload = "OFFLOAD_FAILED"

	// CodeUnavailable marks a batch refused admission, for example while the
	// circuit breaker is open.
	CodeUnavailable = "UNAVAILABLE"

	// CodeInternal marks any error without a more specific code.
	CodeInternal = "INTERNAL"
)

var (
	// ErrPrecondition is the sentinel behind every CodePrecondition error
	ErrPrecondition = errors.New("precondition violated")

	// ErrOutOfMemory is the sentinel behind every CodeOutOfMemory error
	ErrOutOfMemory = errors.New("out of memory")

	// ErrPatternCompile is the sentinel behind every CodePatternCompile error
	ErrPatternCompile = errors.New("pattern compile failed")

	// ErrScriptCompile is the sentinel behind every CodeScriptCompile error
	ErrScriptCompile = errors.New("script compile failed")

	// ErrWorkerFault is the sentinel behind every CodeWorkerFault error
	ErrWorkerFault = errors.New("worker fault")

	// ErrInvalidRequest is the sentinel behind every CodeInvalidRequest error
	ErrInvalidRequest = errors.New("invalid request")

	// ErrOffload is the sentinel behind every CodeOffload error
	ErrOffload = errors.New("offload failed")

	// ErrUnavailable is the sentinel behind every CodeUnavailable error
	ErrUnavailable = errors.New("unavailable")

	// ErrNotConnected indicates that the service is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")
)

var sentinels = map[string]error{
	CodePrecondition:   ErrPrecondition,
	CodeOutOfMemory:    ErrOutOfMemory,
	CodePatternCompile: ErrPatternCompile,
	CodeScriptCompile:  ErrScriptCompile,
	CodeWorkerFault:    ErrWorkerFault,
	CodeInvalidRequest: ErrInvalidRequest,
	CodeOffload:        ErrOffload,
	CodeUnavailable:    ErrUnavailable,
}

// Error represents a structured engine error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel registered for the error's code, so
// errors.Is(err, ErrOutOfMemory) works without wrapping the sentinel.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Preconditionf builds a CodePrecondition error. Callers panic with it.
func Preconditionf(format string, args ...any) *Error {
	return NewError(CodePrecondition, fmt.Sprintf(format, args...), nil)
}

// NewOutOfMemory wraps an allocation failure
func NewOutOfMemory(message string, err error) *Error {
	return NewError(CodeOutOfMemory, message, err)
}

// NewPatternCompile wraps a pattern compile failure
func NewPatternCompile(pattern string, err error) *Error {
	return NewError(CodePatternCompile, fmt.Sprintf("failed to compile pattern %q", pattern), err)
}

// NewScriptCompile wraps a script compile failure
func NewScriptCompile(err error) *Error {
	return NewError(CodeScriptCompile, "failed to compile script", err)
}

// NewInvalidRequest reports a malformed request
func NewInvalidRequest(message string) *Error {
	return NewError(CodeInvalidRequest, message, nil)
}

// NewOffload wraps a blob storage failure
func NewOffload(err error) *Error {
	return NewError(CodeOffload, "failed to offload reply", err)
}

// NewUnavailable reports a batch that was not admitted
func NewUnavailable(message string, err error) *Error {
	return NewError(CodeUnavailable, message, err)
}

// WorkerFault describes a panic recovered inside a worker.
type WorkerFault struct {
	Worker    int
	Index     int
	Recovered any
	Stack     []byte
}

func (f *WorkerFault) Error() string {
	return fmt.Sprintf("worker %d panicked at index %d: %v", f.Worker, f.Index, f.Recovered)
}

// NewWorkerFault wraps a recovered worker panic
func NewWorkerFault(fault *WorkerFault) *Error {
	return NewError(CodeWorkerFault, "batch aborted", fault)
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code
func IsCode(err error, code string) bool {
	return Code(err) == code
}

// IsOutOfMemory checks if an error is an out-of-memory error
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
