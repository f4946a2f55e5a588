package workflow

import (
	"fmt"

	"github.com/taskrelay/taskrelay/pkg/cerr"
)

// Status is a task's position in the workflow graph. The status set is fixed;
// every task status is always one of these values.
type Status string

const (
	StatusInbox      Status = "inbox"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
	StatusArchived   Status = "archived"
)

// Statuses lists every workflow status in graph declaration order.
var Statuses = []Status{
	StatusInbox,
	StatusAssigned,
	StatusInProgress,
	StatusReview,
	StatusDone,
	StatusBlocked,
	StatusArchived,
}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", s), nil)
	}
	return st, nil
}
