package account

import (
	"time"

	"github.com/taskrelay/taskrelay/internal/permission"
)

type Account struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// OrchestratorAgentID designates the single agent with elevated rights
	// (archive, assign, mark-done fallback, response-requests). Empty when no
	// orchestrator is configured.
	OrchestratorAgentID string                `yaml:"orchestrator_agent_id,omitempty" json:"orchestrator_agent_id,omitempty"`
	Behavior            *permission.Overrides `yaml:"behavior,omitempty" json:"behavior,omitempty"`
	CreatedAt           time.Time             `yaml:"created_at" json:"created_at"`
	UpdatedAt           time.Time             `yaml:"updated_at" json:"updated_at"`
}
