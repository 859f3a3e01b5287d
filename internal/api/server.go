// Package api exposes the HTTP surface: session lifecycle, turn submission,
// history, and the live event stream. Handlers are thin; all coordination
// semantics live in the lock, queue, events, and worker packages.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hexlattice/sessiond/internal/config"
	"github.com/hexlattice/sessiond/internal/coord"
	"github.com/hexlattice/sessiond/internal/events"
	"github.com/hexlattice/sessiond/internal/provision"
	"github.com/hexlattice/sessiond/internal/queue"
	"github.com/hexlattice/sessiond/internal/storage"
)

// Server wires the HTTP handlers to their injected dependencies
type Server struct {
	logger      *slog.Logger
	router      chi.Router
	entities    storage.Store
	coordStore  coord.Store
	dispatcher  *queue.Dispatcher
	distributor *events.Distributor
	provisioner provision.Provisioner

	apiKey            string
	keepAliveInterval time.Duration
	backlogLimit      int
}

// New creates the API server. All collaborators are injected; the server
// owns none of them.
func New(
	logger *slog.Logger,
	entities storage.Store,
	coordStore coord.Store,
	dispatcher *queue.Dispatcher,
	distributor *events.Distributor,
	provisioner provision.Provisioner,
	cfg config.Config,
) *Server {
	s := &Server{
		logger:            logger,
		entities:          entities,
		coordStore:        coordStore,
		dispatcher:        dispatcher,
		distributor:       distributor,
		provisioner:       provisioner,
		apiKey:            cfg.APIKey,
		keepAliveInterval: cfg.KeepAliveInterval,
		backlogLimit:      cfg.BacklogLimit,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/health", s.health)

	r.Route("/v1/sessions", func(v1 chi.Router) {
		v1.Get("/", s.listSessions)
		v1.Get("/{session_id}", s.getSession)
		v1.Get("/{session_id}/history", s.history)
		v1.Get("/{session_id}/events", s.streamEvents)

		v1.Group(func(authed chi.Router) {
			authed.Use(s.requireAPIKey)
			authed.Post("/", s.createSession)
			authed.Post("/{session_id}/stop", s.stopSession)
			authed.Post("/{session_id}/messages", s.postMessage)
		})
	})

	r.Route("/v1/debug", func(dbg chi.Router) {
		dbg.Use(s.requireAPIKey)
		dbg.Post("/sessions/{session_id}/emit", s.debugEmit)
	})

	s.router = r
	return s
}

// ServeHTTP makes the server an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.coordStore.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "coord_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
