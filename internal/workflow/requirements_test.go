package workflow

import "testing"

func TestValidateRequirements(t *testing.T) {
	tests := []struct {
		name          string
		to            Status
		hasAssignees  bool
		blockedReason string
		wantErr       bool
	}{
		{"assigned needs assignees", StatusAssigned, false, "", true},
		{"assigned with assignees", StatusAssigned, true, "", false},
		{"inbox rejects assignees", StatusInbox, true, "", true},
		{"inbox without assignees", StatusInbox, false, "", false},
		{"in_progress needs assignees", StatusInProgress, false, "", true},
		{"in_progress with assignees", StatusInProgress, true, "", false},
		{"blocked needs reason", StatusBlocked, true, "", true},
		{"blocked with reason", StatusBlocked, true, "waiting on credentials", false},
		{"review has no requirements", StatusReview, false, "", false},
		{"done has no requirements", StatusDone, false, "", false},
		{"archived has no requirements", StatusArchived, false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequirements(tt.to, tt.hasAssignees, tt.blockedReason)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRequirements(%s, %v, %q) error = %v, wantErr %v", tt.to, tt.hasAssignees, tt.blockedReason, err, tt.wantErr)
			}
		})
	}
}
