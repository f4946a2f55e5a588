package agent

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	"github.com/taskrelay/taskrelay/internal/permission"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

type Server struct {
	repo Repository
	bus  *eventbus.Bus
}

func NewServer(repo Repository, bus *eventbus.Bus) *Server {
	return &Server{
		repo: repo,
		bus:  bus,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/agents", s.handleCreate)
	r.Get("/agents", s.handleList)
	r.Get("/agents/{agentID}", s.handleGet)
	r.Patch("/agents/{agentID}", s.handleUpdate)
	r.Delete("/agents/{agentID}", s.handleDelete)
	r.Post("/agents/{agentID}/heartbeat", s.handleHeartbeat)
}

type createRequest struct {
	Name     string                `json:"name"`
	Slug     string                `json:"slug"`
	Role     string                `json:"role"`
	Behavior *permission.Overrides `json:"behavior"`
}

// createResponse carries the API key exactly once, at registration time.
type createResponse struct {
	Agent  *Agent `json:"agent"`
	APIKey string `json:"api_key"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents cannot register agents", nil)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name == "" || req.Slug == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "name and slug are required", nil)
		return
	}
	if existing, err := s.repo.GetBySlug(ctx, caller.AccountID, req.Slug); err == nil && existing != nil {
		cerr.SetNewJSONError(ctx, cerr.AlreadyExists, fmt.Sprintf("slug %q is already taken", req.Slug), nil)
		return
	}

	apiKey, err := newAPIKey()
	if err != nil {
		cerr.SetNewJSONError(ctx, cerr.Internal, "server error", err)
		return
	}
	now := time.Now()
	a := &Agent{
		ID:        ulid.Make().String(),
		AccountID: caller.AccountID,
		Name:      req.Name,
		Slug:      req.Slug,
		Role:      req.Role,
		Status:    StatusOffline,
		APIKey:    apiKey,
		Behavior:  req.Behavior,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &createResponse{Agent: a, APIKey: apiKey})
}

type listResponse struct {
	Agents []*Agent `json:"agents"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	agents, err := s.repo.List(ctx, caller.AccountID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &listResponse{Agents: agents})
}

type agentResponse struct {
	Agent *Agent `json:"agent"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, _, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &agentResponse{Agent: a})
}

type updateRequest struct {
	Name     *string               `json:"name"`
	Slug     *string               `json:"slug"`
	Role     *string               `json:"role"`
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
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents cannot modify agent registrations", nil)
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.Slug != nil && *req.Slug != a.Slug {
		if existing, err := s.repo.GetBySlug(ctx, a.AccountID, *req.Slug); err == nil && existing != nil {
			cerr.SetNewJSONError(ctx, cerr.AlreadyExists, fmt.Sprintf("slug %q is already taken", *req.Slug), nil)
			return
		}
		a.Slug = *req.Slug
	}
	if req.Role != nil {
		a.Role = *req.Role
	}
	if req.Behavior != nil {
		a.Behavior = req.Behavior
	}
	a.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.bus.PublishNew(eventbus.EventAgentUpdated, a.AccountID, a.ID, nil)
	cerr.SetJSONResponse(ctx, &agentResponse{Agent: a})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, caller, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents cannot delete agent registrations", nil)
		return
	}
	if err := s.repo.Delete(ctx, a.ID); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

type heartbeatRequest struct {
	Status OperationalStatus `json:"status"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, caller, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() && caller.AgentID != a.ID {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "agents can only report their own heartbeat", nil)
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Status == "" {
		req.Status = StatusOnline
	}
	if !validOperationalStatus(req.Status) {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, fmt.Sprintf("unknown status %q", req.Status), nil)
		return
	}
	now := time.Now()
	a.Status = req.Status
	a.LastHeartbeatAt = &now
	a.UpdatedAt = now
	if err := s.repo.Update(ctx, a); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.bus.PublishNew(eventbus.EventAgentUpdated, a.AccountID, a.ID, map[string]string{"status": string(a.Status)})
	cerr.SetJSONResponse(ctx, &agentResponse{Agent: a})
}

func (s *Server) loadOwned(r *http.Request) (*Agent, *auth.Caller, error) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := s.repo.Get(ctx, chi.URLParam(r, "agentID"))
	if err != nil {
		return nil, nil, err
	}
	if a.AccountID != caller.AccountID {
		return nil, nil, cerr.NewError(cerr.PermissionDenied, "resource belongs to a different account", nil)
	}
	return a, caller, nil
}

func validOperationalStatus(s OperationalStatus) bool {
	switch s {
	case StatusOnline, StatusBusy, StatusIdle, StatusOffline, StatusError:
		return true
	}
	return false
}

func newAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "tr_" + hex.EncodeToString(buf), nil
}
