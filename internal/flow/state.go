package flow

// State is the position of a flow in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateFlowStarted
	StateAwaitingCallback
	StateSucceeded
	StateDenied
	StateError
)

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFlowStarted:
		return "flow-started"
	case StateAwaitingCallback:
		return "awaiting-callback"
	case StateSucceeded:
		return "succeeded"
	case StateDenied:
		return "denied"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateDenied || s == StateError
}
