package server

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/polarlab/brisk/internal/storage"
)

// handleCreateParticipant handles POST /api/participants: provision a new
// participant and mint their access token. Guarded by the admin secret.
func (s *Server) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	if s.secret == "" || r.Header.Get("X-Admin-Secret") != s.secret {
		writeError(w, http.StatusUnauthorized, "invalid admin secret")
		return
	}

	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokenBytes := make([]byte, 24)
	if _, err := crand.Read(tokenBytes); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	p := &storage.Participant{
		ID:        uuid.New().String(),
		Token:     hex.EncodeToString(tokenBytes),
		Label:     req.Label,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := s.db.CreateParticipant(p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create participant")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    p.ID,
		"token": p.Token,
		"label": p.Label,
	})
}

// handleGetSelf handles GET /api/participants/me: resolve the caller's own
// participant record.
func (s *Server) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}
	writeJSON(w, http.StatusOK, p)
}
