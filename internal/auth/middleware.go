package auth

import (
	"context"
	"net/http"

	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/clog"
)

const (
	agentKeyHeader  = "X-Agent-Key"
	userIDHeader    = "X-User-ID"
	userNameHeader  = "X-User-Name"
	accountIDHeader = "X-Account-ID"
)

// AgentKeyResolver turns an agent API key into a caller. Implemented by the
// agent package to keep this one free of a dependency on it.
type AgentKeyResolver interface {
	CallerFromAPIKey(ctx context.Context, apiKey string) (*Caller, error)
}

// ResolveCaller extracts the caller from request headers. An agent key takes
// precedence; otherwise the gateway-verified user identity headers are
// required.
func ResolveCaller(ctx context.Context, r *http.Request, agents AgentKeyResolver) (*Caller, error) {
	if key := r.Header.Get(agentKeyHeader); key != "" {
		return agents.CallerFromAPIKey(ctx, key)
	}

	userID := r.Header.Get(userIDHeader)
	accountID := r.Header.Get(accountIDHeader)
	if userID == "" || accountID == "" {
		return nil, cerr.NewError(cerr.Unauthenticated, "authentication required", nil)
	}
	return &Caller{
		Type:      CallerUser,
		AccountID: accountID,
		UserID:    userID,
		UserName:  r.Header.Get(userNameHeader),
	}, nil
}

// NewChiMiddleware attaches the resolved caller to the request context. Must
// run inside the JSON response middleware so auth failures render as JSON.
func NewChiMiddleware(agents AgentKeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller, err := ResolveCaller(ctx, r, agents)
			if err != nil {
				cerr.SetJSONError(ctx, err)
				return
			}
			clog.AddAttribute(ctx, "account_id", caller.AccountID)
			clog.AddAttribute(ctx, "actor_id", caller.ActorID())
			next.ServeHTTP(w, r.WithContext(WithCaller(ctx, caller)))
		})
	}
}
