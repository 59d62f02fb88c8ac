package transfer

import "fmt"

// State is the lifecycle position of an upload.
//
//	Pending -> InFlight -> {Succeeded | Conflicted | Failed | Aborted}
//	Conflicted -> Pending (Resubmit)
type State int

const (
	Pending State = iota
	InFlight
	Succeeded
	Conflicted
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case Succeeded:
		return "succeeded"
	case Conflicted:
		return "conflicted"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settled reports whether the upload has finished running. Conflicted is
// settled but may be resubmitted.
func (s State) Settled() bool {
	return s >= Succeeded
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == InFlight || to == Aborted
	case InFlight:
		return to == Succeeded || to == Conflicted || to == Failed || to == Aborted
	case Conflicted:
		return to == Pending
	default:
		return false
	}
}
