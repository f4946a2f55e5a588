package permission

import "testing"

func boolPtr(b bool) *bool {
	return &b
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name           string
		accountDefault *Overrides
		agentOverride  *Overrides
		check          func(t *testing.T, got BehaviorFlags)
	}{
		{
			name: "nil layers fall through to defaults",
			check: func(t *testing.T, got BehaviorFlags) {
				if got != Defaults() {
					t.Errorf("Resolve with nil layers = %+v, want defaults", got)
				}
			},
		},
		{
			name:           "account layer overrides default",
			accountDefault: &Overrides{CanMentionAgents: boolPtr(true)},
			check: func(t *testing.T, got BehaviorFlags) {
				if !got.CanMentionAgents {
					t.Error("account override not applied")
				}
				if !got.CanCreateTasks {
					t.Error("unrelated flag changed")
				}
			},
		},
		{
			name:           "agent layer wins over account layer",
			accountDefault: &Overrides{CanCreateTasks: boolPtr(true)},
			agentOverride:  &Overrides{CanCreateTasks: boolPtr(false)},
			check: func(t *testing.T, got BehaviorFlags) {
				if got.CanCreateTasks {
					t.Error("agent override should win over account default")
				}
			},
		},
		{
			name:          "missing agent keys inherit from account layer",
			agentOverride: &Overrides{CanCreateDocuments: boolPtr(true)},
			check: func(t *testing.T, got BehaviorFlags) {
				if !got.CanCreateDocuments {
					t.Error("agent override not applied")
				}
				if got.CanMentionAgents {
					t.Error("unset key should inherit the default false")
				}
			},
		},
		{
			name: "every flag resolvable independently",
			accountDefault: &Overrides{
				CanCreateTasks:      boolPtr(false),
				CanModifyTaskStatus: boolPtr(false),
				CanCreateDocuments:  boolPtr(true),
				CanMentionAgents:    boolPtr(true),
				CanReviewTasks:      boolPtr(false),
				CanMarkDone:         boolPtr(false),
			},
			check: func(t *testing.T, got BehaviorFlags) {
				want := BehaviorFlags{
					CanCreateDocuments: true,
					CanMentionAgents:   true,
				}
				if got != want {
					t.Errorf("Resolve = %+v, want %+v", got, want)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(Defaults(), tt.accountDefault, tt.agentOverride)
			tt.check(t, got)
		})
	}
}

func TestResolveIsPure(t *testing.T) {
	acc := &Overrides{CanMarkDone: boolPtr(false)}
	first := Resolve(Defaults(), acc, nil)
	second := Resolve(Defaults(), acc, nil)
	if first != second {
		t.Error("Resolve is not deterministic")
	}
	if acc.CanMarkDone == nil || *acc.CanMarkDone {
		t.Error("Resolve mutated its input layer")
	}
}
