package workflow

import (
	"errors"
	"testing"
)

func TestFindPath(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		want    []Status
		wantErr bool
	}{
		{
			name: "same status yields empty path",
			from: StatusInProgress,
			to:   StatusInProgress,
			want: []Status{},
		},
		{
			name: "direct edge",
			from: StatusReview,
			to:   StatusDone,
			want: []Status{StatusDone},
		},
		{
			name: "assigned to done crosses in_progress and review",
			from: StatusAssigned,
			to:   StatusDone,
			want: []Status{StatusInProgress, StatusReview, StatusDone},
		},
		{
			name: "in_progress to done",
			from: StatusInProgress,
			to:   StatusDone,
			want: []Status{StatusReview, StatusDone},
		},
		{
			name: "blocked to done",
			from: StatusBlocked,
			to:   StatusDone,
			want: []Status{StatusInProgress, StatusReview, StatusDone},
		},
		{
			name: "assigned to review",
			from: StatusAssigned,
			to:   StatusReview,
			want: []Status{StatusInProgress, StatusReview},
		},
		{
			name:    "target outside allow-list",
			from:    StatusInProgress,
			to:      StatusAssigned,
			wantErr: true,
		},
		{
			name:    "inbox cannot reach done without assignment",
			from:    StatusInbox,
			to:      StatusDone,
			wantErr: true,
		},
		{
			name:    "archived has no outgoing edges",
			from:    StatusArchived,
			to:      StatusDone,
			wantErr: true,
		},
		{
			name:    "done cannot go back to review",
			from:    StatusDone,
			to:      StatusReview,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindPath(tt.from, tt.to, AutomatedAllowList)
			if tt.wantErr {
				if !errors.Is(err, ErrNoPath) {
					t.Fatalf("FindPath(%s, %s) error = %v, want ErrNoPath", tt.from, tt.to, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindPath(%s, %s) error: %v", tt.from, tt.to, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("FindPath(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("FindPath(%s, %s)[%d] = %s, want %s", tt.from, tt.to, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFindPathCustomAllowList(t *testing.T) {
	// Without review on the allow-list, done is unreachable from assigned.
	allowed := []Status{StatusInProgress, StatusDone}
	if _, err := FindPath(StatusAssigned, StatusDone, allowed); !errors.Is(err, ErrNoPath) {
		t.Errorf("expected ErrNoPath without review in allow-list, got %v", err)
	}
}
