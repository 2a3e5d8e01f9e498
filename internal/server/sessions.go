package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/polarlab/brisk/internal/feed"
	"github.com/polarlab/brisk/internal/session"
	"github.com/polarlab/brisk/internal/storage"
)

// handleCreateSession handles POST /api/sessions: start a new session for
// the authenticated participant. Voluntary starts over the anti-gaming limit
// get 429 and no session row.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}

	var req struct {
		PromptRef    *string `json:"prompt_ref"`
		Practice     bool    `json:"practice"`
		PracticeTask string  `json:"practice_task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		sess *storage.Session
		err  error
		kind string
	)
	switch {
	case req.Practice:
		if req.PracticeTask == "" {
			writeError(w, http.StatusUnprocessableEntity, "practice_task is required for practice sessions")
			return
		}
		sess, err = s.sessions.CreatePractice(p.ID, req.PracticeTask)
		kind = "practice"
	case req.PromptRef != nil:
		sess, err = s.sessions.Create(p.ID, req.PromptRef, false)
		kind = "prompted"
	default:
		sess, err = s.sessions.Create(p.ID, nil, false)
		kind = "voluntary"
	}
	if err != nil {
		var limited *session.LimitedError
		if errors.As(err, &limited) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":  "session limit reached",
				"reason": limited.Reason,
			})
			return
		}
		if req.Practice && !s.registry.Known(req.PracticeTask) {
			writeError(w, http.StatusUnprocessableEntity, "unknown practice task")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	sessionsStartedTotal.WithLabelValues(kind).Inc()
	s.hub.Publish(feed.Event{
		Type:          feed.EventSessionStarted,
		ParticipantID: p.ID,
		SessionID:     sess.ID,
		At:            time.Now().UnixMilli(),
	})

	next, err := s.sessions.NextBootstrap(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve first task")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session": sess,
		"next":    next,
	})
}

// loadOwnedSession fetches a session and enforces that the participant owns
// it. Writes the error response itself on failure.
func (s *Server) loadOwnedSession(w http.ResponseWriter, id string, p *storage.Participant) *storage.Session {
	sess, err := s.db.GetSession(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "session not found")
			return nil
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil
	}
	if sess.ParticipantID != p.ID {
		log.Printf("[auth] participant %s attempted access to session %s owned by %s", p.ID, sess.ID, sess.ParticipantID)
		writeError(w, http.StatusForbidden, "session belongs to another participant")
		return nil
	}
	return sess
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}
	sess := s.loadOwnedSession(w, r.PathValue("id"), p)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleNextTask handles GET /api/sessions/{id}/next: the runner
// configuration for the session's next task, or null when done.
func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}
	sess := s.loadOwnedSession(w, r.PathValue("id"), p)
	if sess == nil {
		return
	}

	var next *session.Bootstrap
	if sess.Status == storage.SessionInProgress {
		var err error
		next, err = s.sessions.NextBootstrap(sess)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve next task")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": sess.Status,
		"next":   next,
	})
}

// handleSessionMeta handles POST /api/sessions/{id}/meta: attach client
// metadata captured after session creation.
func (s *Server) handleSessionMeta(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}
	sess := s.loadOwnedSession(w, r.PathValue("id"), p)
	if sess == nil {
		return
	}

	var req struct {
		TimezoneOffsetMinutes *int           `json:"timezone_offset_minutes"`
		DeviceMeta            map[string]any `json:"device_meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.db.UpdateSessionMeta(sess.ID, req.TimezoneOffsetMinutes, req.DeviceMeta); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSkipTask handles POST /api/sessions/{id}/skip: mark the session's
// current task skipped and advance. Skipping the last remaining task
// completes the session.
func (s *Server) handleSkipTask(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}
	sess := s.loadOwnedSession(w, r.PathValue("id"), p)
	if sess == nil {
		return
	}
	if sess.Status != storage.SessionInProgress {
		writeError(w, http.StatusConflict, "session is not in progress")
		return
	}

	var req struct {
		TaskType string `json:"task_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inOrder := false
	for _, t := range sess.TaskOrder {
		if t == req.TaskType {
			inOrder = true
			break
		}
	}
	if !inOrder {
		writeError(w, http.StatusUnprocessableEntity, "task is not part of this session")
		return
	}

	if err := s.db.AppendSkippedTask(sess.ID, req.TaskType); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to skip task")
		return
	}

	sess, err := s.db.GetSession(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reload session")
		return
	}
	next, err := s.sessions.Next(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve next task")
		return
	}

	status := sess.Status
	if next == "" {
		now := time.Now().UnixMilli()
		if err := s.db.SetSessionStatus(sess.ID, storage.SessionComplete, now); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to complete session")
			return
		}
		status = storage.SessionComplete
		sessionsCompletedTotal.Inc()
		s.hub.Publish(feed.Event{
			Type:          feed.EventSessionCompleted,
			ParticipantID: p.ID,
			SessionID:     sess.ID,
			At:            now,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"skipped":   req.TaskType,
		"next_task": next,
		"status":    status,
	})
}
