package pushsubscription

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/config"
	"github.com/taskrelay/taskrelay/pkg/cerr"
)

type Server struct {
	repo     Repository
	vapidEnv *config.VAPIDEnv
}

func NewServer(repo Repository, vapidEnv *config.VAPIDEnv) *Server {
	return &Server{
		repo:     repo,
		vapidEnv: vapidEnv,
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/push-subscriptions/vapid-public-key", s.handleVAPIDPublicKey)
	r.Post("/push-subscriptions", s.handleRegister)
	r.Get("/push-subscriptions", s.handleList)
	r.Delete("/push-subscriptions/{subscriptionID}", s.handleUnregister)
}

type vapidResponse struct {
	PublicKey string `json:"public_key"`
}

func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.vapidEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(ctx, cerr.FailedPrecondition, "web push is not configured", nil)
		return
	}
	cerr.SetJSONResponse(ctx, &vapidResponse{PublicKey: s.vapidEnv.VAPIDPublicKey})
}

type registerRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

type subscriptionResponse struct {
	Subscription *Subscription `json:"subscription"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if !caller.IsUser() {
		cerr.SetNewJSONError(ctx, cerr.PermissionDenied, "only users receive web push", nil)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" || req.P256dhKey == "" || req.AuthKey == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "endpoint, p256dh_key and auth_key are required", nil)
		return
	}

	// Re-registering the same endpoint replaces the old record.
	existing, err := s.repo.ListByUser(ctx, caller.AccountID, caller.UserID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	for _, old := range existing {
		if old.Endpoint == req.Endpoint {
			if err := s.repo.Delete(ctx, old.ID); err != nil {
				cerr.SetJSONError(ctx, err)
				return
			}
		}
	}

	sub := &Subscription{
		ID:        ulid.Make().String(),
		AccountID: caller.AccountID,
		UserID:    caller.UserID,
		Endpoint:  req.Endpoint,
		P256dhKey: req.P256dhKey,
		AuthKey:   req.AuthKey,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &subscriptionResponse{Subscription: sub})
}

type listResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	subs, err := s.repo.ListByUser(ctx, caller.AccountID, caller.UserID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, &listResponse{Subscriptions: subs})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.CallerFrom(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	id := chi.URLParam(r, "subscriptionID")
	subs, err := s.repo.ListByUser(ctx, caller.AccountID, caller.UserID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	for _, sub := range subs {
		if sub.ID == id {
			if err := s.repo.Delete(ctx, id); err != nil {
				cerr.SetJSONError(ctx, err)
				return
			}
			cerr.SetJSONResponse(ctx, struct{}{})
			return
		}
	}
	cerr.SetNewJSONError(ctx, cerr.NotFound, "subscription not found", nil)
}
