package workflow

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"inbox to assigned", StatusInbox, StatusAssigned, true},
		{"inbox to archived", StatusInbox, StatusArchived, true},
		{"inbox to in_progress", StatusInbox, StatusInProgress, false},
		{"assigned to in_progress", StatusAssigned, StatusInProgress, true},
		{"assigned to inbox", StatusAssigned, StatusInbox, true},
		{"assigned to done", StatusAssigned, StatusDone, false},
		{"in_progress to review", StatusInProgress, StatusReview, true},
		{"in_progress to done", StatusInProgress, StatusDone, false},
		{"review to done", StatusReview, StatusDone, true},
		{"review to in_progress", StatusReview, StatusInProgress, true},
		{"done to archived", StatusDone, StatusArchived, true},
		{"done to review", StatusDone, StatusReview, false},
		{"blocked to assigned", StatusBlocked, StatusAssigned, true},
		{"blocked to in_progress", StatusBlocked, StatusInProgress, true},
		{"blocked to review", StatusBlocked, StatusReview, false},
		{"archived is terminal", StatusArchived, StatusInbox, false},
		{"self loop is not an edge", StatusInbox, StatusInbox, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestOutgoingOrder(t *testing.T) {
	// Declaration order matters: it breaks BFS ties.
	got := Outgoing(StatusReview)
	want := []Status{StatusDone, StatusInProgress, StatusBlocked, StatusArchived}
	if len(got) != len(want) {
		t.Fatalf("Outgoing(review) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Outgoing(review)[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOutgoingArchivedIsEmpty(t *testing.T) {
	if got := Outgoing(StatusArchived); len(got) != 0 {
		t.Errorf("Outgoing(archived) = %v, want empty", got)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("in_progress")
	if err != nil {
		t.Fatalf("ParseStatus(in_progress) error: %v", err)
	}
	if s != StatusInProgress {
		t.Errorf("ParseStatus(in_progress) = %s", s)
	}
	if _, err := ParseStatus("nonsense"); err == nil {
		t.Error("ParseStatus(nonsense) expected error")
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusArchived
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
