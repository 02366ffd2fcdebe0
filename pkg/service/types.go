package service

import (
	"errors"
	"fmt"
	"time"

	sdkerrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/pattern"
	"github.com/wehubfusion/Talos/pkg/script"
	"github.com/wehubfusion/Talos/pkg/storage"
)

// Op names a bulk operation.
type Op string

const (
	OpFind         Op = "find"
	OpIsMatch      Op = "is_match"
	OpCapture      Op = "capture"
	OpCaptureNamed Op = "capture_named"
	OpSplit        Op = "split"
	OpReplace      Op = "replace"
	OpCopy         Op = "copy"
	OpASCIIUpper   Op = "ascii_upper"
	OpUpper        Op = "upper"
	OpLower        Op = "lower"
	OpTitle        Op = "title"
	OpScript       Op = "script"
)

// Ops lists every supported operation.
var Ops = []Op{
	OpFind, OpIsMatch, OpCapture, OpCaptureNamed, OpSplit, OpReplace,
	OpCopy, OpASCIIUpper, OpUpper, OpLower, OpTitle, OpScript,
}

// NeedsPattern reports whether op takes a regular expression.
func (op Op) NeedsPattern() bool {
	switch op {
	case OpFind, OpIsMatch, OpCapture, OpCaptureNamed, OpSplit, OpReplace:
		return true
	}
	return false
}

func (op Op) valid() bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Task is one operation over one list of items.
type Task struct {
	Op              Op             `json:"op"`
	Items           []string       `json:"items"`
	Pattern         string         `json:"pattern,omitempty"`
	Template        string         `json:"template,omitempty"`
	Count           *int           `json:"count,omitempty"`
	Locale          string         `json:"locale,omitempty"`
	Script          *script.Config `json:"script,omitempty"`
	Jobs            int            `json:"jobs,omitempty"`
	CaseInsensitive bool           `json:"case_insensitive,omitempty"`
	Engine          pattern.Engine `json:"engine,omitempty"`
	MatchTimeoutMS  int            `json:"match_timeout_ms,omitempty"`
}

// DefaultReplaceCount is the replace count used when a task omits it.
const DefaultReplaceCount = 1

// ReplaceCount returns how many matches replace rewrites per element: the
// first one when the task omits count, all of them for 0.
func (t *Task) ReplaceCount() int {
	if t.Count == nil {
		return DefaultReplaceCount
	}
	return *t.Count
}

// Validate checks a task against the service limits.
func (t *Task) Validate(cfg Config) error {
	switch {
	case t.Op == "":
		return sdkerrors.NewInvalidRequest("op is required")
	case !t.Op.valid():
		return sdkerrors.NewInvalidRequest(fmt.Sprintf("unknown op %q", t.Op))
	case len(t.Items) > cfg.MaxItems:
		return sdkerrors.NewInvalidRequest(fmt.Sprintf("%d items exceeds the limit of %d", len(t.Items), cfg.MaxItems))
	case t.Jobs < 0:
		return sdkerrors.NewInvalidRequest("jobs must not be negative")
	case t.Count != nil && *t.Count < 0:
		return sdkerrors.NewInvalidRequest("count must not be negative")
	case t.MatchTimeoutMS < 0:
		return sdkerrors.NewInvalidRequest("match_timeout_ms must not be negative")
	case t.Op.NeedsPattern() && t.Pattern == "":
		return sdkerrors.NewInvalidRequest(fmt.Sprintf("op %q requires a pattern", t.Op))
	case t.Op == OpScript && t.Script == nil:
		return sdkerrors.NewInvalidRequest("op \"script\" requires a script")
	}
	if t.Engine != "" {
		if _, err := pattern.ParseEngine(string(t.Engine)); err != nil {
			return sdkerrors.NewInvalidRequest(err.Error())
		}
	}
	return nil
}

// Request is a batch request. It carries either one inline task or a list
// of tasks, never both.
type Request struct {
	ID string `json:"id,omitempty"`
	Task
	Tasks []Task `json:"tasks,omitempty"`
}

// Validate checks the request shape and every task.
func (r *Request) Validate(cfg Config) error {
	if len(r.Tasks) == 0 {
		return r.Task.Validate(cfg)
	}
	if r.Op != "" {
		return sdkerrors.NewInvalidRequest("a request carries either op or tasks, not both")
	}
	if len(r.Tasks) > cfg.MaxTasks {
		return sdkerrors.NewInvalidRequest(fmt.Sprintf("%d tasks exceeds the limit of %d", len(r.Tasks), cfg.MaxTasks))
	}
	for i := range r.Tasks {
		if err := r.Tasks[i].Validate(cfg); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	return nil
}

// ErrorBody is the wire form of an error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Index   *int   `json:"index,omitempty"`
	Worker  *int   `json:"worker,omitempty"`
}

// TaskReply is the outcome of one task in a multi-task request.
type TaskReply struct {
	Results []any      `json:"results,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// Reply answers a Request. When Blob is set the full reply lives in blob
// storage and every other field except ID is empty.
type Reply struct {
	ID         string             `json:"id"`
	Results    []any              `json:"results,omitempty"`
	Tasks      []TaskReply        `json:"tasks,omitempty"`
	Error      *ErrorBody         `json:"error,omitempty"`
	Blob       *storage.Reference `json:"blob,omitempty"`
	DurationMS int64              `json:"duration_ms"`
}

// Err converts the reply error back into a Go error.
func (r *Reply) Err() error {
	if r.Error == nil {
		return nil
	}
	return sdkerrors.NewError(r.Error.Code, r.Error.Message, nil)
}

func newErrorBody(err error) *ErrorBody {
	if err == nil {
		return nil
	}
	code := sdkerrors.Code(err)
	if code == "" {
		code = sdkerrors.CodeInternal
	}
	body := &ErrorBody{Code: code, Message: err.Error()}
	var fault *sdkerrors.WorkerFault
	if errors.As(err, &fault) {
		index, worker := fault.Index, fault.Worker
		body.Index = &index
		body.Worker = &worker
	}
	return body
}

func (t *Task) matchTimeout() time.Duration {
	return time.Duration(t.MatchTimeoutMS) * time.Millisecond
}
