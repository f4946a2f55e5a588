package agent

import (
	"context"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

// CallerResolver adapts the repository to auth.AgentKeyResolver.
type CallerResolver struct {
	repo Repository
}

func NewCallerResolver(repo Repository) *CallerResolver {
	return &CallerResolver{repo: repo}
}

func (r *CallerResolver) CallerFromAPIKey(ctx context.Context, apiKey string) (*auth.Caller, error) {
	a, err := r.repo.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, cerr.NewError(cerr.Unauthenticated, "invalid agent key", err)
	}
	return &auth.Caller{
		Type:          auth.CallerAgent,
		AccountID:     a.AccountID,
		AgentID:       a.ID,
		AgentIsQA:     a.IsQA(),
		AgentBehavior: a.Behavior,
	}, nil
}
