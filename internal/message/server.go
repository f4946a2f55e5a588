package message

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
	"github.com/taskrelay/taskrelay/internal/task"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

const defaultThreadLimit = 50

type Server struct {
	repo  Repository
	tasks task.Repository
	bus   *eventbus.Bus
}

func NewServer(repo Repository, tasks task.Repository, bus *eventbus.Bus) *Server {
	return &Server{
		repo:  repo,
		tasks: tasks,
		bus:   bus,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Post("/tasks/{taskID}/messages", s.handleCreate)
	r.Get("/tasks/{taskID}/messages", s.handleList)
}

type createRequest struct {
	Body string `json:"body"`
}

type messageResponse struct {
	Message *Message `json:"message"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, t, err := s.loadOwnedTask(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Body == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "message body is required", nil)
		return
	}

	m := &Message{
		ID:         ulid.Make().String(),
		AccountID:  t.AccountID,
		TaskID:     t.ID,
		AuthorType: AuthorType(caller.Type),
		AuthorID:   caller.ActorID(),
		Body:       req.Body,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Create(ctx, m); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	s.bus.PublishNew(eventbus.EventMessageCreated, m.AccountID, m.ID, map[string]string{"task_id": t.ID})
	cerr.SetJSONResponse(ctx, &messageResponse{Message: m})
}

type listResponse struct {
	Messages []*Message `json:"messages"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, t, err := s.loadOwnedTask(r)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	limit := defaultThreadLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	messages, err := s.repo.ListByTask(ctx, t.ID, limit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &listResponse{Messages: messages})
}

func (s *Server) loadOwnedTask(r *http.Request) (*auth.Caller, *task.Task, error) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.tasks.Get(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		return nil, nil, err
	}
	if t.AccountID != caller.AccountID {
		return nil, nil, cerr.NewError(cerr.PermissionDenied, "resource belongs to a different account", nil)
	}
	return caller, t, nil
}
