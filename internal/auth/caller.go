package auth

import (
	"context"

	"github.com/taskrelay/taskrelay/internal/permission"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

type CallerType string

const (
	CallerUser  CallerType = "user"
	CallerAgent CallerType = "agent"
)

// Caller is the authenticated principal attached to each request. Agent
// callers carry the facts permission checks need; the agent document itself
// stays in the agent package.
type Caller struct {
	Type      CallerType
	AccountID string
	UserID    string
	UserName  string

	AgentID       string
	AgentIsQA     bool
	AgentBehavior *permission.Overrides
}

func (c *Caller) ActorID() string {
	if c.Type == CallerAgent {
		return c.AgentID
	}
	return c.UserID
}

func (c *Caller) IsUser() bool {
	return c.Type == CallerUser
}

// IsOrchestrator reports whether the caller is the account's designated
// orchestrator agent.
func (c *Caller) IsOrchestrator(orchestratorAgentID string) bool {
	return c.Type == CallerAgent && orchestratorAgentID != "" && c.AgentID == orchestratorAgentID
}

// EffectiveFlags resolves the caller's behavior permissions. Human users are
// not subject to behavior flags and always receive the full set; agents get
// the three layer merge of global defaults, account defaults, and per agent
// overrides.
func (c *Caller) EffectiveFlags(accountDefault *permission.Overrides) permission.BehaviorFlags {
	if c.Type == CallerUser {
		return permission.BehaviorFlags{
			CanCreateTasks:      true,
			CanModifyTaskStatus: true,
			CanCreateDocuments:  true,
			CanMentionAgents:    true,
			CanReviewTasks:      true,
			CanMarkDone:         true,
		}
	}
	return permission.Resolve(permission.Defaults(), accountDefault, c.AgentBehavior)
}

type callerKey struct{}

func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the request caller, or an Unauthenticated error when the
// middleware did not attach one.
func CallerFrom(ctx context.Context) (*Caller, error) {
	c, ok := ctx.Value(callerKey{}).(*Caller)
	if !ok || c == nil {
		return nil, cerr.NewError(cerr.Unauthenticated, "authentication required", nil)
	}
	return c, nil
}
