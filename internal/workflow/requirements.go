package workflow

import "github.com/taskrelay/taskrelay/pkg/cerr"

// ValidateRequirements checks the entry requirements of a target status.
// Callers are expected to skip the check entirely for no-op transitions
// (current == requested).
func ValidateRequirements(to Status, hasAssignees bool, blockedReason string) error {
	switch to {
	case StatusAssigned:
		if !hasAssignees {
			return cerr.NewError(cerr.FailedPrecondition, "cannot move to assigned without at least one assignee", nil)
		}
	case StatusInbox:
		if hasAssignees {
			return cerr.NewError(cerr.FailedPrecondition, "cannot move to inbox while assignees are set; clear assignees first", nil)
		}
	case StatusInProgress:
		if !hasAssignees {
			return cerr.NewError(cerr.FailedPrecondition, "cannot move to in_progress without at least one assignee", nil)
		}
	case StatusBlocked:
		if blockedReason == "" {
			return cerr.NewError(cerr.FailedPrecondition, "cannot move to blocked without a blocked reason", nil)
		}
	}
	return nil
}
