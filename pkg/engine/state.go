package engine

// State is a batch's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateSequentialRun
	StateParallelRun
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateSequentialRun:
		return "sequential_run"
	case StateParallelRun:
		return "parallel_run"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}
