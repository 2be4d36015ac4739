package taskqueue

// State is the lifecycle state of a [Queue].
//
//	StateOpen → StateClosing   [Close]
//	StateClosing → StateClosed [worker drained the queue and exited]
//	StateClosed → (terminal)
//
// Transitions happen under the queue mutex.
type State uint32

const (
	// StateOpen accepts submissions.
	StateOpen State = iota
	// StateClosing rejects submissions while queued tasks drain.
	StateClosing
	// StateClosed indicates the worker has exited.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
