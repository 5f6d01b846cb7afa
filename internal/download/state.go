package download

import "fmt"

// State is the downloader's lifecycle position. Transitions outside
// the allowed table are programming errors and are rejected.
type State int

const (
	StateIdle State = iota
	StateRedirectPending
	StateDownloading
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRedirectPending:
		return "redirect_pending"
	case StateDownloading:
		return "downloading"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// allowedTransitions is the complete transition table. Terminal states
// may only return to Idle (reuse of the same downloader for a new
// request).
var allowedTransitions = map[State][]State{
	StateIdle:            {StateRedirectPending},
	StateRedirectPending: {StateDownloading, StateCancelled, StateFailed},
	StateDownloading:     {StateCompleted, StateCancelled, StateFailed},
	StateCompleted:       {StateIdle},
	StateCancelled:       {StateIdle},
	StateFailed:          {StateIdle},
}

func transitionAllowed(from, to State) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
