package agent

import (
	"time"

	"github.com/taskrelay/taskrelay/internal/permission"
)

// OperationalStatus is the heartbeat status of an agent runtime. It is
// orthogonal to task workflow status and only affects notification delivery.
type OperationalStatus string

const (
	StatusOnline  OperationalStatus = "online"
	StatusBusy    OperationalStatus = "busy"
	StatusIdle    OperationalStatus = "idle"
	StatusOffline OperationalStatus = "offline"
	StatusError   OperationalStatus = "error"
)

type Agent struct {
	ID        string            `yaml:"id" json:"id"`
	AccountID string            `yaml:"account_id" json:"account_id"`
	Name      string            `yaml:"name" json:"name"`
	Slug      string            `yaml:"slug" json:"slug"`
	Role      string            `yaml:"role" json:"role"`
	Status    OperationalStatus `yaml:"status" json:"status"`
	// APIKey is the service credential binding this agent to its account.
	// Never serialized to API responses.
	APIKey          string                `yaml:"api_key" json:"-"`
	Behavior        *permission.Overrides `yaml:"behavior,omitempty" json:"behavior,omitempty"`
	LastHeartbeatAt *time.Time            `yaml:"last_heartbeat_at,omitempty" json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time             `yaml:"created_at" json:"created_at"`
	UpdatedAt       time.Time             `yaml:"updated_at" json:"updated_at"`
}
