package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

const defaultUndeliveredLimit = 50

type Server struct {
	service *Service
}

func NewServer(service *Service) *Server {
	return &Server{service: service}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/notifications/undelivered", s.handleListUndelivered)
	r.Post("/notifications/{notificationID}/read", s.handleMarkRead)
	r.Post("/notifications/{notificationID}/delivered", s.handleMarkDelivered)
	r.Post("/notifications/{notificationID}/delivery-ended", s.handleMarkDeliveryEnded)
	r.Get("/notifications/{notificationID}/delivery-context", s.handleDeliveryContext)
	r.Post("/tasks/{taskID}/response-requests", s.handleResponseRequests)
}

type listResponse struct {
	Notifications []*Notification `json:"notifications"`
}

func (s *Server) handleListUndelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	limit := defaultUndeliveredLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	notifications, err := s.service.ListUndelivered(ctx, caller, limit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &listResponse{Notifications: notifications})
}

type notificationResponse struct {
	Notification *Notification `json:"notification"`
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.service.MarkRead)
}

func (s *Server) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.service.MarkDelivered)
}

func (s *Server) handleMarkDeliveryEnded(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.service.MarkDeliveryEnded)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller *auth.Caller, id string) (*Notification, error)) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	n, err := op(ctx, caller, chi.URLParam(r, "notificationID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &notificationResponse{Notification: n})
}

func (s *Server) handleDeliveryContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	dc, err := s.service.GetDeliveryContext(ctx, caller, chi.URLParam(r, "notificationID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, dc)
}

type responseRequestsRequest struct {
	Slugs   []string `json:"slugs"`
	Message string   `json:"message"`
}

func (s *Server) handleResponseRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	var req responseRequestsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	result, err := s.service.CreateResponseRequests(ctx, caller, chi.URLParam(r, "taskID"), req.Slugs, req.Message)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, result)
}
