package task

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskrelay/taskrelay/internal/audit"
	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/workflow"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

const defaultListLimit = 50

type Server struct {
	executor *Executor
	repo     Repository
	audits   audit.Repository
}

func NewServer(executor *Executor, repo Repository, audits audit.Repository) *Server {
	return &Server{
		executor: executor,
		repo:     repo,
		audits:   audits,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/tasks", s.handleCreate)
	r.Get("/tasks", s.handleList)
	r.Get("/tasks/{taskID}", s.handleGet)
	r.Patch("/tasks/{taskID}", s.handleUpdate)
	r.Delete("/tasks/{taskID}", s.handleDelete)
	r.Post("/tasks/{taskID}/status", s.handleStatus)
	r.Post("/tasks/{taskID}/assign", s.handleAssign)
	r.Post("/tasks/{taskID}/archive", s.handleArchive)
	r.Get("/tasks/{taskID}/audit", s.handleAudit)
}

type taskResponse struct {
	Task *Task `json:"task"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var in CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.executor.Create(ctx, caller, &in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

type listResponse struct {
	Tasks []*Task `json:"tasks"`
	Total int     `json:"total"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	var status workflow.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err = workflow.ParseStatus(raw)
		if err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
	}
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)

	tasks, total, err := s.repo.List(ctx, caller.AccountID, status, limit, offset)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &listResponse{Tasks: tasks, Total: total})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var in UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.executor.UpdateFields(ctx, caller, chi.URLParam(r, "taskID"), &in)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := s.executor.Delete(ctx, caller, chi.URLParam(r, "taskID")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

type statusRequest struct {
	Target         workflow.Status `json:"target"`
	BlockedReason  string          `json:"blocked_reason"`
	ExpectedStatus workflow.Status `json:"expected_status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	res, err := s.executor.RequestTransition(ctx, caller, chi.URLParam(r, "taskID"), req.Target, req.BlockedReason, req.ExpectedStatus)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, res)
}

type assignRequest struct {
	UserIDs  []string `json:"user_ids"`
	AgentIDs []string `json:"agent_ids"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.executor.Assign(ctx, caller, chi.URLParam(r, "taskID"), req.UserIDs, req.AgentIDs)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.executor.Archive(ctx, caller, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &taskResponse{Task: t})
}

type auditResponse struct {
	Entries []*audit.Entry `json:"entries"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.loadOwned(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	entries, err := s.audits.ListByTask(ctx, t.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &auditResponse{Entries: entries})
}

func (s *Server) loadOwned(r *http.Request) (*Task, error) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.Get(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		return nil, err
	}
	if err := sameAccount(caller, t.AccountID); err != nil {
		return nil, err
	}
	return t, nil
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
