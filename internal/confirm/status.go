package confirm

import "fmt"

// Status is the lifecycle state of a pending confirmation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusConsumed Status = "consumed"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusConsumed, StatusSent, StatusFailed, StatusSkipped}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConsumed, StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible without an
// explicit retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q: must be one of %v", s, AllStatuses)
	}
	return st, nil
}

// CanTransition reports whether from → to is an edge of the state machine.
// consumed → consumed is the crash-recovery reclaim edge.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConsumed || to == StatusSkipped
	case StatusConsumed:
		return to == StatusSent || to == StatusFailed || to == StatusSkipped || to == StatusConsumed
	case StatusFailed:
		return to == StatusConsumed
	}
	return false
}
