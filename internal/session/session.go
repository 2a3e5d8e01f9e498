// Package session orchestrates assessment sessions: seeded task ordering,
// the derived-variable snapshot frozen at creation, cursor advancement and
// the anti-gaming voluntary start limits.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/polarlab/brisk/internal/config"
	"github.com/polarlab/brisk/internal/derived"
	"github.com/polarlab/brisk/internal/seq"
	"github.com/polarlab/brisk/internal/storage"
	"github.com/polarlab/brisk/internal/task"
)

// orderStreamID is the task-identity salt for the task-order draw stream, so
// ordering draws never overlap with any task's own stimulus stream.
const orderStreamID = "task-order"

// LimitedError reports a blocked voluntary session start. The reason is
// participant-facing.
type LimitedError struct {
	Reason string
}

func (e *LimitedError) Error() string { return "session rate limited: " + e.Reason }

// Orchestrator creates sessions and tracks battery progress.
type Orchestrator struct {
	db       *storage.DB
	registry *task.Registry
	cfg      *config.Config
	now      func() time.Time
}

// NewOrchestrator wires the orchestrator to storage, the task registry and
// the policy config.
func NewOrchestrator(db *storage.DB, registry *task.Registry, cfg *config.Config) *Orchestrator {
	return &Orchestrator{db: db, registry: registry, cfg: cfg, now: time.Now}
}

// CheckVoluntaryLimit reports whether the participant may start another
// voluntary (non-prompted, non-practice) session. A blocked result carries a
// participant-facing reason.
func (o *Orchestrator) CheckVoluntaryLimit(participantID string) (bool, string, error) {
	now := o.now()

	hourAgo := now.Add(-time.Hour).UnixMilli()
	hourly, err := o.db.CountVoluntarySessionsSince(participantID, hourAgo)
	if err != nil {
		return false, "", fmt.Errorf("check voluntary limit: %w", err)
	}
	if hourly >= o.cfg.VoluntarySessionsPerHour {
		return false, fmt.Sprintf(
			"You have started %d sessions in the last hour. Please wait a while before starting another.",
			o.cfg.VoluntarySessionsPerHour,
		), nil
	}

	daily, err := o.db.CountVoluntarySessionsSince(participantID, dayStart(now).UnixMilli())
	if err != nil {
		return false, "", fmt.Errorf("check voluntary limit: %w", err)
	}
	if daily >= o.cfg.VoluntarySessionsPerDay {
		return false, fmt.Sprintf(
			"You have reached the maximum of %d sessions for today. Come back tomorrow!",
			o.cfg.VoluntarySessionsPerDay,
		), nil
	}
	return true, "", nil
}

// Create starts a new session for the participant: fresh seed, seeded task
// order, derived-variable snapshot frozen at this moment. Voluntary starts
// are checked against the rolling limits first; a blocked attempt creates no
// session record and returns a *LimitedError.
func (o *Orchestrator) Create(participantID string, promptRef *string, isPractice bool) (*storage.Session, error) {
	if promptRef == nil && !isPractice {
		allowed, reason, err := o.CheckVoluntaryLimit(participantID)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, &LimitedError{Reason: reason}
		}
	}

	now := o.now()
	seed := uuid.New().String()
	order, rotating, err := o.taskOrder(participantID, seed, now)
	if err != nil {
		return nil, err
	}

	snap, err := o.derivedSnapshot(participantID, now)
	if err != nil {
		return nil, err
	}

	s := &storage.Session{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		PromptRef:     promptRef,
		IsPractice:    isPractice,
		Seed:          seed,
		TaskOrder:     order,
		RotatingTask:  rotating,
		Status:        storage.SessionInProgress,
		StartedAt:     now.UnixMilli(),
		QualityFlags:  []string{},
		Derived:       snap,
	}
	if err := o.db.CreateSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreatePractice starts a single-task practice session. Results submit
// normally but are flagged as practice so analyses exclude them. Practice
// starts are never rate limited.
func (o *Orchestrator) CreatePractice(participantID, taskType string) (*storage.Session, error) {
	if !o.registry.Known(taskType) {
		return nil, fmt.Errorf("create practice session: unknown task type %q", taskType)
	}
	now := o.now()
	snap, err := o.derivedSnapshot(participantID, now)
	if err != nil {
		return nil, err
	}
	s := &storage.Session{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		IsPractice:    true,
		Seed:          uuid.New().String(),
		TaskOrder:     []string{taskType},
		Status:        storage.SessionInProgress,
		StartedAt:     now.UnixMilli(),
		QualityFlags:  []string{},
		Derived:       snap,
	}
	if err := o.db.CreateSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// taskOrder derives the session's battery from its seed: all core tasks plus
// at most one rotating module per participant per calendar day, shuffled
// together by the seeded stream.
func (o *Orchestrator) taskOrder(participantID, seed string, now time.Time) ([]string, string, error) {
	stream := seq.New(seed, orderStreamID)
	order := o.registry.Core()

	rotating := ""
	if candidates := o.registry.Rotating(); len(candidates) > 0 {
		pick := candidates[stream.IntN(len(candidates))]
		start := dayStart(now)
		n, err := o.db.CountRotatingSessionsBetween(participantID, start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli())
		if err != nil {
			return nil, "", fmt.Errorf("task order: %w", err)
		}
		if n == 0 {
			rotating = pick
			order = append(order, pick)
		}
	}

	stream.Shuffle(order)
	return order, rotating, nil
}

// derivedSnapshot computes the exposure-proximity features for a session
// starting now. The snapshot is frozen onto the session so exposures logged
// later never change it.
func (o *Orchestrator) derivedSnapshot(participantID string, now time.Time) (derived.Snapshot, error) {
	events, err := o.db.ListExposures(participantID)
	if err != nil {
		return nil, fmt.Errorf("derived snapshot: %w", err)
	}
	exposures := make([]derived.Exposure, len(events))
	for i, e := range events {
		exposures[i] = derived.Exposure{At: time.UnixMilli(e.At)}
	}
	return derived.Compute(exposures, now), nil
}

// Next returns the first task in the session's order with neither a persisted
// result nor a skip mark, or empty when the battery is done. Reading the
// result set fresh on every call keeps it idempotent under concurrent use;
// the authoritative advance happens inside storage.PersistResult's
// transaction.
func (o *Orchestrator) Next(s *storage.Session) (string, error) {
	doneTypes, err := o.db.ListResultTypes(s.ID)
	if err != nil {
		return "", err
	}
	done := make(map[string]bool, len(doneTypes)+len(s.SkippedTasks))
	for _, t := range doneTypes {
		done[t] = true
	}
	for _, t := range s.SkippedTasks {
		done[t] = true
	}
	for _, t := range s.TaskOrder {
		if !done[t] {
			return t, nil
		}
	}
	return "", nil
}

// Bootstrap is the per-task configuration handed to the task runner.
type Bootstrap struct {
	SessionID   string `json:"session_id"`
	TaskType    string `json:"task_type"`
	TaskVersion string `json:"task_version"`
	DurationMs  int    `json:"duration_ms"`
	Seed        string `json:"seed"`
}

// NextBootstrap resolves the session's next task into runner configuration,
// or nil when every task is terminal.
func (o *Orchestrator) NextBootstrap(s *storage.Session) (*Bootstrap, error) {
	next, err := o.Next(s)
	if err != nil || next == "" {
		return nil, err
	}
	def, ok := o.registry.Get(next)
	if !ok {
		return nil, fmt.Errorf("next bootstrap: unregistered task %q in session order", next)
	}
	return &Bootstrap{
		SessionID:   s.ID,
		TaskType:    def.Type,
		TaskVersion: def.Version,
		DurationMs:  def.DurationMs,
		Seed:        s.Seed,
	}, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
