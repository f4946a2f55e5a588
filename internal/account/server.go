package account

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/permission"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

// OrchestratorChecker verifies that an orchestrator candidate exists and
// belongs to the account. Wired from the agent repository in main to avoid a
// dependency on the agent package.
type OrchestratorChecker func(ctx context.Context, agentID, accountID string) error

type Server struct {
	repo    Repository
	checker OrchestratorChecker
}

func NewServer(repo Repository, checker OrchestratorChecker) *Server {
	return &Server{
		repo:    repo,
		checker: checker,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/accounts", s.handleCreate)
	r.Get("/accounts/{accountID}", s.handleGet)
	r.Patch("/accounts/{accountID}", s.handleUpdate)
	r.Put("/accounts/{accountID}/orchestrator", s.handleSetOrchestrator)
}

type createRequest struct {
	Name     string                `json:"name"`
	Behavior *permission.Overrides `json:"behavior"`
}

type accountResponse struct {
	Account *Account `json:"account"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents cannot create accounts", nil)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "name is required", nil)
		return
	}
	now := time.Now()
	a := &Account{
		ID:        ulid.Make().String(),
		Name:      req.Name,
		Behavior:  req.Behavior,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &accountResponse{Account: a})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, _, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &accountResponse{Account: a})
}

type updateRequest struct {
	Name     *string               `json:"name"`
	Behavior *permission.Overrides `json:"behavior"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, caller, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents cannot modify account settings", nil)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "name cannot be empty", nil)
			return
		}
		a.Name = *req.Name
	}
	if req.Behavior != nil {
		a.Behavior = req.Behavior
	}
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &accountResponse{Account: a})
}

type orchestratorRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleSetOrchestrator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, caller, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents cannot change the orchestrator", nil)
		return
	}
	var req orchestratorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.AgentID != "" && s.checker != nil {
		if err := s.checker(ctx, req.AgentID, a.ID); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}
	a.OrchestratorAgentID = req.AgentID
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &accountResponse{Account: a})
}

func (s *Server) loadOwned(r *http.Request) (*Account, *auth.Caller, error) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.repo.Get(ctx, chi.URLParam(r, "accountID"))
	if err != nil {
		return nil, nil, err
	}
	if a.ID != caller.AccountID {
		return nil, nil, cerr.NewError(cerr.PermissionDenied, "resource belongs to a different account", nil)
	}
	return a, caller, nil
}
