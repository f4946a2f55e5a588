package audit

import (
	"time"

	"github.com/taskrelay/taskrelay/internal/workflow"
)

// Entry is one append-only activity record. Multi-hop transitions write a
// single entry carrying the caller-observed previous/new status pair.
type Entry struct {
	ID         string          `yaml:"id" json:"id"`
	AccountID  string          `yaml:"account_id" json:"account_id"`
	TaskID     string          `yaml:"task_id" json:"task_id"`
	ActorType  string          `yaml:"actor_type" json:"actor_type"`
	ActorID    string          `yaml:"actor_id" json:"actor_id"`
	Action     string          `yaml:"action" json:"action"`
	FromStatus workflow.Status `yaml:"from_status,omitempty" json:"from_status,omitempty"`
	ToStatus   workflow.Status `yaml:"to_status,omitempty" json:"to_status,omitempty"`
	Detail     string          `yaml:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt  time.Time       `yaml:"created_at" json:"created_at"`
}
