package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/polarlab/brisk/internal/config"
	"github.com/polarlab/brisk/internal/feed"
	"github.com/polarlab/brisk/internal/session"
	"github.com/polarlab/brisk/internal/storage"
	"github.com/polarlab/brisk/internal/task"
)

// Server is the main HTTP server for the collection API.
type Server struct {
	db       *storage.DB
	cfg      *config.Config
	registry *task.Registry
	sessions *session.Orchestrator
	hub      *feed.Hub
	limiter  *rateLimiter
	secret   string
	mux      *http.ServeMux
}

// New creates a new Server with all routes registered. secret guards the
// participant provisioning endpoint.
func New(db *storage.DB, cfg *config.Config, registry *task.Registry, hub *feed.Hub, secret string) *Server {
	initMetrics()
	s := &Server{
		db:       db,
		cfg:      cfg,
		registry: registry,
		sessions: session.NewOrchestrator(db, registry, cfg),
		hub:      hub,
		limiter:  newRateLimiter(cfg.RequestsPerMinute),
		secret:   secret,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health and observability
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", metricsHandler())

	// Participants
	s.mux.HandleFunc("POST /api/participants", s.handleCreateParticipant)
	s.mux.HandleFunc("GET /api/participants/me", s.limited(s.handleGetSelf))

	// Sessions
	s.mux.HandleFunc("POST /api/sessions", s.limited(s.handleCreateSession))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.limited(s.handleGetSession))
	s.mux.HandleFunc("GET /api/sessions/{id}/next", s.limited(s.handleNextTask))
	s.mux.HandleFunc("POST /api/sessions/{id}/meta", s.limited(s.handleSessionMeta))
	s.mux.HandleFunc("POST /api/sessions/{id}/skip", s.limited(s.handleSkipTask))

	// Results
	s.mux.HandleFunc("POST /api/results", s.limited(s.handleSubmitResult))

	// Exposures
	s.mux.HandleFunc("POST /api/exposures", s.limited(s.handleCreateExposure))
	s.mux.HandleFunc("GET /api/exposures", s.limited(s.handleListExposures))

	// Live event feed
	s.mux.HandleFunc("GET /api/events", feed.HandleWebSocket(s.hub))
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "brisk",
		"feed":    s.hub.Stats(),
	})
}

// authParticipant resolves the Bearer token to a participant. It writes the
// 401 itself and returns nil when authentication fails.
func (s *Server) authParticipant(w http.ResponseWriter, r *http.Request) *storage.Participant {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return nil
	}
	p, err := s.db.GetParticipantByToken(token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return nil
		}
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return nil
	}
	return p
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
