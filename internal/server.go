package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/taskrelay/taskrelay/internal/account"
	"github.com/taskrelay/taskrelay/internal/agent"
	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/config"
	"github.com/taskrelay/taskrelay/internal/event"
	"github.com/taskrelay/taskrelay/internal/message"
	"github.com/taskrelay/taskrelay/internal/notification"
	"github.com/taskrelay/taskrelay/internal/pushsubscription"
	"github.com/taskrelay/taskrelay/internal/task"
	"github.com/taskrelay/taskrelay/pkg/cerr"
	"github.com/taskrelay/taskrelay/pkg/clog"
)

type Server struct {
	server                 *http.Server
	env                    *config.BaseEnv
	agentResolver          auth.AgentKeyResolver
	accountServer          *account.Server
	agentServer            *agent.Server
	taskServer             *task.Server
	messageServer          *message.Server
	notificationServer     *notification.Server
	pushSubscriptionServer *pushsubscription.Server
	eventServer            *event.Server
}

func NewServer(
	env *config.BaseEnv,
	agentResolver auth.AgentKeyResolver,
	accountServer *account.Server,
	agentServer *agent.Server,
	taskServer *task.Server,
	messageServer *message.Server,
	notificationServer *notification.Server,
	pushSubscriptionServer *pushsubscription.Server,
	eventServer *event.Server,
) *Server {
	return &Server{
		env:                    env,
		agentResolver:          agentResolver,
		accountServer:          accountServer,
		agentServer:            agentServer,
		taskServer:             taskServer,
		messageServer:          messageServer,
		notificationServer:     notificationServer,
		pushSubscriptionServer: pushSubscriptionServer,
		eventServer:            eventServer,
	}
}

// ListenAndServe starts the HTTP server. The provided context is used as the
// base context for all incoming requests via http.Server.BaseContext, so
// cancelling it also cancels open SSE streams and lets shutdown complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		api.Use(clog.SlogChiMiddleware())

		// The event stream writes incrementally and cannot go through the
		// JSON response middleware.
		api.Get("/events", s.eventServer.HandleStream)

		api.Group(func(g chi.Router) {
			g.Use(
				cerr.NewJSONResponseChiMiddleware(),
				auth.NewChiMiddleware(s.agentResolver),
			)
			s.accountServer.Routes(g)
			s.agentServer.Routes(g)
			s.taskServer.Routes(g)
			s.messageServer.Routes(g)
			s.notificationServer.Routes(g)
			s.pushSubscriptionServer.Routes(g)
			g.NotFound(func(w http.ResponseWriter, r *http.Request) {
				cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
			})
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)

	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(s.apiKeyMiddleware(mux)),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip API key check for health endpoints.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}
		if apiKey != s.env.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
