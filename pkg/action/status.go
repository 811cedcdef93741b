package action

// Status is the lifecycle state of one goal.
//
// Accepted and Executing are transient; Succeeded, Canceled and Aborted are
// terminal. A goal reaches exactly one terminal status, exactly once.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusAccepted
	StatusExecuting
	StatusSucceeded
	StatusCanceled
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "ACCEPTED"
	case StatusExecuting:
		return "EXECUTING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusCanceled:
		return "CANCELED"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the goal can no longer change status.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusCanceled || s == StatusAborted
}
