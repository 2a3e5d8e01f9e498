package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/polarlab/brisk/internal/feed"
	"github.com/polarlab/brisk/internal/storage"
)

// handleCreateExposure handles POST /api/exposures: log a cold exposure
// event for the authenticated participant. Sessions already created keep
// their frozen derived snapshot; only future sessions see this event.
func (s *Server) handleCreateExposure(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}

	var req struct {
		At              int64    `json:"at"`
		DurationMinutes int      `json:"duration_minutes"`
		WaterTempC      *float64 `json:"water_temp_celsius"`
		Context         string   `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UnixMilli()
	if req.At == 0 {
		req.At = now
	}
	if req.At > now {
		writeError(w, http.StatusUnprocessableEntity, "exposure time is in the future")
		return
	}
	if req.DurationMinutes < 0 {
		writeError(w, http.StatusUnprocessableEntity, "duration must not be negative")
		return
	}

	e := &storage.ExposureEvent{
		ID:              uuid.New().String(),
		ParticipantID:   p.ID,
		At:              req.At,
		DurationMinutes: req.DurationMinutes,
		WaterTempC:      req.WaterTempC,
		Context:         req.Context,
	}
	if err := s.db.CreateExposure(e); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record exposure")
		return
	}

	s.hub.Publish(feed.Event{
		Type:          feed.EventExposureLogged,
		ParticipantID: p.ID,
		At:            now,
	})
	writeJSON(w, http.StatusCreated, e)
}

// handleListExposures handles GET /api/exposures: the caller's exposure
// history, oldest first.
func (s *Server) handleListExposures(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}
	events, err := s.db.ListExposures(p.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list exposures")
		return
	}
	if events == nil {
		events = []storage.ExposureEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
