package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/polarlab/brisk/internal/feed"
	"github.com/polarlab/brisk/internal/quality"
	"github.com/polarlab/brisk/internal/storage"
	"github.com/polarlab/brisk/internal/task"
)

// rapidResubmissionWindow is how close before a session's start a sibling
// session may reach a terminal state before the gaming flag raises.
const rapidResubmissionWindow = 10 * time.Minute

type resultRequest struct {
	SessionID     string             `json:"session_id"`
	TaskType      string             `json:"task_type"`
	TaskVersion   string             `json:"task_version"`
	StartedAt     int64              `json:"started_at"`
	EndedAt       int64              `json:"ended_at"`
	DurationMs    int                `json:"duration_ms"`
	InputModality string             `json:"input_modality"`
	IsPartial     bool               `json:"is_partial"`
	Trials        []task.Trial       `json:"trials"`
	Summary       map[string]float64 `json:"summary"`
	Interruptions []struct {
		Type string `json:"type"`
		At   int64  `json:"at"`
	} `json:"interruptions"`
	AbortReason string `json:"abort_reason"`
}

func reject(w http.ResponseWriter, status int, reason, msg string) {
	resultsRejectedTotal.WithLabelValues(reason).Inc()
	writeError(w, status, msg)
}

// handleSubmitResult handles POST /api/results: validate and persist one
// finished task run. Interruption events are stored even when the submission
// itself is rejected.
func (s *Server) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	p := s.authParticipant(w, r)
	if p == nil {
		return
	}

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		reject(w, http.StatusBadRequest, "malformed", "invalid request body")
		return
	}

	if req.SessionID == "" || req.TaskType == "" {
		reject(w, http.StatusUnprocessableEntity, "missing_fields", "session_id and task_type are required")
		return
	}
	if req.DurationMs < 0 || req.EndedAt < req.StartedAt {
		reject(w, http.StatusUnprocessableEntity, "invalid_timing", "result timing is inconsistent")
		return
	}
	def, ok := s.registry.Get(req.TaskType)
	if !ok {
		reject(w, http.StatusUnprocessableEntity, "unknown_task", "unknown task type")
		return
	}

	sess := s.loadOwnedSession(w, req.SessionID, p)
	if sess == nil {
		return
	}

	if sess.Status == storage.SessionComplete {
		reject(w, http.StatusConflict, "session_complete", "session is already complete")
		return
	}
	doneTypes, err := s.db.ListResultTypes(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session results")
		return
	}
	for _, t := range doneTypes {
		if t == req.TaskType {
			reject(w, http.StatusConflict, "duplicate_task", "task already submitted for this session")
			return
		}
	}

	// Interruptions are evidence about how the run went; they persist no
	// matter what happens to the submission below.
	if len(req.Interruptions) > 0 {
		events := make([]storage.InterruptionEvent, len(req.Interruptions))
		for i, e := range req.Interruptions {
			events[i] = storage.InterruptionEvent{
				ID:        uuid.New().String(),
				SessionID: sess.ID,
				TaskType:  req.TaskType,
				Type:      e.Type,
				At:        e.At,
			}
		}
		if err := s.db.InsertInterruptions(events); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record interruptions")
			return
		}
	}

	if req.IsPartial {
		if def.MinimumViableMs == 0 {
			reject(w, http.StatusUnprocessableEntity, "partial_not_accepted", "task does not accept partial results")
			return
		}
		if req.DurationMs < def.MinimumViableMs {
			reject(w, http.StatusUnprocessableEntity, "below_minimum_viable", "partial result is below the minimum viable duration")
			return
		}
	}

	// Server-side recompute is authoritative; the client summary is only
	// compared against it.
	summary, err := task.ComputeSummary(req.TaskType, req.Trials, def.DurationMs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	flags := task.CompareSummaries(req.Summary, summary, s.cfg.SummaryTolerance)

	rapid, err := s.db.HasTerminalSessionSince(p.ID, sess.ID, sess.StartedAt-rapidResubmissionWindow.Milliseconds())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check session history")
		return
	}
	interruptionCount, err := s.db.CountInterruptions(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count interruptions")
		return
	}
	flags = quality.Merge(flags, quality.Compute(req.Trials, interruptionCount, rapid))

	if len(flags) > 0 {
		if err := s.db.AppendQualityFlags(sess.ID, flags); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record quality flags")
			return
		}
		for _, f := range flags {
			qualityFlagsTotal.WithLabelValues(f).Inc()
		}
	}

	indexOverall, indexPerTask, err := s.db.NextResultIndices(p.ID, req.TaskType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute result indices")
		return
	}

	now := time.Now().UnixMilli()
	result := &storage.TaskResult{
		ID:            uuid.New().String(),
		SessionID:     sess.ID,
		TaskType:      req.TaskType,
		TaskVersion:   req.TaskVersion,
		StartedAt:     req.StartedAt,
		EndedAt:       req.EndedAt,
		DurationMs:    req.DurationMs,
		InputModality: req.InputModality,
		Trials:        req.Trials,
		Summary:       summary,
		IndexOverall:  indexOverall,
		IndexPerTask:  indexPerTask,
		IsPartial:     req.IsPartial,
	}

	nextTask, completed, err := s.db.PersistResult(result, now)
	if err != nil {
		if errors.Is(err, storage.ErrSessionComplete) {
			reject(w, http.StatusConflict, "session_complete", "session is already complete")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to persist result")
		return
	}

	if req.TaskType == task.TypeMood && len(req.Trials) > 0 {
		if m := moodRatingFromTrial(sess.ID, req.Trials[0]); m != nil {
			if err := s.db.UpsertMoodRating(m); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to record mood rating")
				return
			}
		}
	}

	resultsAcceptedTotal.WithLabelValues(req.TaskType).Inc()
	s.hub.Publish(feed.Event{
		Type:          feed.EventResultAccepted,
		ParticipantID: p.ID,
		SessionID:     sess.ID,
		TaskType:      req.TaskType,
		At:            now,
	})
	if completed {
		sessionsCompletedTotal.Inc()
		s.hub.Publish(feed.Event{
			Type:          feed.EventSessionCompleted,
			ParticipantID: p.ID,
			SessionID:     sess.ID,
			At:            now,
		})
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"accepted":         true,
		"next_task":        nextTask,
		"session_complete": completed,
		"is_partial":       req.IsPartial,
		"quality_flags":    flags,
	})
}

// moodRatingFromTrial extracts the four ratings when all are present.
func moodRatingFromTrial(sessionID string, tr task.Trial) *storage.MoodRating {
	if tr.Valence == nil || tr.Arousal == nil || tr.Stress == nil || tr.Sharpness == nil {
		return nil
	}
	return &storage.MoodRating{
		SessionID: sessionID,
		Valence:   *tr.Valence,
		Arousal:   *tr.Arousal,
		Stress:    *tr.Stress,
		Sharpness: *tr.Sharpness,
	}
}
