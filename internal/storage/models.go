// internal/storage/models.go
package storage

import (
	"github.com/polarlab/brisk/internal/derived"
	"github.com/polarlab/brisk/internal/task"
)

// Session completion statuses.
const (
	SessionInProgress = "in_progress"
	SessionComplete   = "complete"
	SessionAbandoned  = "abandoned"
)

// Interruption event types recorded by the task runner.
const (
	InterruptVisibilityHidden  = "visibility_hidden"
	InterruptVisibilityVisible = "visibility_visible"
	InterruptPagehide          = "pagehide"
	InterruptBeforeUnload      = "beforeunload"
	InterruptOffline           = "offline"
	InterruptOnline            = "online"
	InterruptTimeout           = "timeout"
	InterruptManualAbort       = "manual_abort"
)

type Participant struct {
	ID        string `json:"id"`
	Token     string `json:"-"`
	Label     string `json:"label,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type Session struct {
	ID                    string           `json:"id"`
	ParticipantID         string           `json:"participant_id"`
	PromptRef             *string          `json:"prompt_ref,omitempty"`
	IsPractice            bool             `json:"is_practice"`
	Seed                  string           `json:"seed"`
	TaskOrder             []string         `json:"task_order"`
	RotatingTask          string           `json:"rotating_task,omitempty"`
	Status                string           `json:"status"`
	StartedAt             int64            `json:"started_at"` // unix ms
	CompletedAt           *int64           `json:"completed_at,omitempty"`
	TimezoneOffsetMinutes *int             `json:"timezone_offset_minutes,omitempty"`
	DeviceMeta            map[string]any   `json:"device_meta,omitempty"`
	SkippedTasks          []string         `json:"skipped_tasks,omitempty"`
	QualityFlags          []string         `json:"quality_flags"`
	Derived               derived.Snapshot `json:"derived_variables"`
}

type TaskResult struct {
	ID            string       `json:"id"`
	SessionID     string       `json:"session_id"`
	TaskType      string       `json:"task_type"`
	TaskVersion   string       `json:"task_version"`
	StartedAt     int64        `json:"started_at"` // unix ms
	EndedAt       int64        `json:"ended_at"`   // unix ms
	DurationMs    int          `json:"duration_ms"`
	InputModality string       `json:"input_modality"`
	Trials        []task.Trial `json:"trials"`
	Summary       task.Summary `json:"summary"`
	IndexOverall  int          `json:"index_overall"`
	IndexPerTask  int          `json:"index_per_task"`
	IsPartial     bool         `json:"is_partial"`
}

type InterruptionEvent struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	TaskType  string `json:"task_type,omitempty"`
	Type      string `json:"type"`
	At        int64  `json:"at"` // unix ms wall clock
}

type ExposureEvent struct {
	ID              string   `json:"id"`
	ParticipantID   string   `json:"participant_id"`
	At              int64    `json:"at"` // unix ms
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	WaterTempC      *float64 `json:"water_temp_celsius,omitempty"`
	Context         string   `json:"context,omitempty"`
}

type MoodRating struct {
	SessionID string `json:"session_id"`
	Valence   int    `json:"valence"`
	Arousal   int    `json:"arousal"`
	Stress    int    `json:"stress"`
	Sharpness int    `json:"sharpness"`
}
