package txn

// State is the stage an upload or removal has reached
type State int

const (
	StateReceived State = iota
	StateExtracting
	StateAwaitingExclusiveAccess
	StateUpdating
	StateCommitted
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateReceived:
		return "Received"
	case StateExtracting:
		return "Extracting"
	case StateAwaitingExclusiveAccess:
		return "AwaitingExclusiveAccess"
	case StateUpdating:
		return "Updating"
	case StateCommitted:
		return "Committed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
