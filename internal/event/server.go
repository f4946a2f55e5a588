package event

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/taskrelay/taskrelay/internal/auth"
	"github.com/taskrelay/taskrelay/internal/eventbus"
)

// Server streams account-scoped bus events over SSE. It is mounted outside
// the JSON response middleware because the response is written incrementally.
type Server struct {
	bus    *eventbus.Bus
	agents auth.AgentKeyResolver
}

func NewServer(bus *eventbus.Bus, agents auth.AgentKeyResolver) *Server {
	return &Server{
		bus:    bus,
		agents: agents,
	}
}

func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := auth.ResolveCaller(ctx, r, s.agents)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Optional comma-separated type filter: /events?types=task.created,...
	typeFilter := make(map[eventbus.EventType]struct{})
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				typeFilter[eventbus.EventType(t)] = struct{}{}
			}
		}
	}

	subID, ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.AccountID != caller.AccountID {
				continue
			}
			if len(typeFilter) > 0 {
				if _, match := typeFilter[event.Type]; !match {
					continue
				}
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(event.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
