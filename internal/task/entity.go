package task

import (
	"time"

	"github.com/taskrelay/taskrelay/internal/workflow"
)

type Task struct {
	ID          string          `yaml:"id" json:"id"`
	AccountID   string          `yaml:"account_id" json:"account_id"`
	Title       string          `yaml:"title" json:"title"`
	Description string          `yaml:"description" json:"description"`
	Status      workflow.Status `yaml:"status" json:"status"`
	// Priority runs 0 (most urgent) through 9.
	Priority         int        `yaml:"priority" json:"priority"`
	Labels           []string   `yaml:"labels,omitempty" json:"labels,omitempty"`
	AssignedUserIDs  []string   `yaml:"assigned_user_ids,omitempty" json:"assigned_user_ids,omitempty"`
	AssignedAgentIDs []string   `yaml:"assigned_agent_ids,omitempty" json:"assigned_agent_ids,omitempty"`
	// BlockedReason is set if and only if Status is blocked.
	BlockedReason string     `yaml:"blocked_reason,omitempty" json:"blocked_reason,omitempty"`
	DueDate       *time.Time `yaml:"due_date,omitempty" json:"due_date,omitempty"`
	// ArchivedAt is set if and only if Status is archived.
	ArchivedAt *time.Time `yaml:"archived_at,omitempty" json:"archived_at,omitempty"`
	CreatedAt  time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `yaml:"updated_at" json:"updated_at"`
}

func (t *Task) HasAssignees() bool {
	return len(t.AssignedUserIDs) > 0 || len(t.AssignedAgentIDs) > 0
}
