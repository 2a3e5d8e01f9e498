package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to a SQLite database.
type DB struct {
	db *sql.DB
}

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Enable foreign keys.
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS participants (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL UNIQUE,
    label TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    participant_id TEXT NOT NULL,
    prompt_ref TEXT,
    is_practice INTEGER DEFAULT 0,
    seed TEXT NOT NULL,
    task_order TEXT NOT NULL,
    rotating_task TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'in_progress',
    started_at INTEGER NOT NULL,
    completed_at INTEGER,
    timezone_offset_minutes INTEGER,
    device_meta TEXT NOT NULL DEFAULT '{}',
    skipped_tasks TEXT NOT NULL DEFAULT '[]',
    quality_flags TEXT NOT NULL DEFAULT '[]',
    derived TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (participant_id) REFERENCES participants(id)
);

CREATE TABLE IF NOT EXISTS task_results (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    task_type TEXT NOT NULL,
    task_version TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    input_modality TEXT,
    trial_data TEXT NOT NULL,
    summary TEXT NOT NULL,
    index_overall INTEGER NOT NULL,
    index_per_task INTEGER NOT NULL,
    is_partial INTEGER DEFAULT 0,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE TABLE IF NOT EXISTS interruption_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    task_type TEXT,
    type TEXT NOT NULL,
    at INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE TABLE IF NOT EXISTS exposure_events (
    id TEXT PRIMARY KEY,
    participant_id TEXT NOT NULL,
    at INTEGER NOT NULL,
    duration_minutes INTEGER,
    water_temp_c REAL,
    context TEXT,
    FOREIGN KEY (participant_id) REFERENCES participants(id)
);

CREATE TABLE IF NOT EXISTS mood_ratings (
    session_id TEXT PRIMARY KEY,
    valence INTEGER NOT NULL,
    arousal INTEGER NOT NULL,
    stress INTEGER NOT NULL,
    sharpness INTEGER NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_participant_started ON sessions(participant_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_participant_status ON sessions(participant_id, status);
CREATE INDEX IF NOT EXISTS idx_task_results_session ON task_results(session_id);
CREATE INDEX IF NOT EXISTS idx_interruptions_session ON interruption_events(session_id);
CREATE INDEX IF NOT EXISTS idx_exposures_participant_at ON exposure_events(participant_id, at);`
	_, err := d.db.Exec(schema)
	return err
}

// boolToInt converts a bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalJSON encodes v for a TEXT column, panicking on the unreachable
// encode failure of value types we fully control.
func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic("storage: marshal json column: " + err.Error())
	}
	return string(b)
}

// --- Participant CRUD ---

// CreateParticipant inserts a new participant record.
func (d *DB) CreateParticipant(p *Participant) error {
	_, err := d.db.Exec(
		`INSERT INTO participants (id, token, label, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Token, p.Label, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// GetParticipant retrieves a participant by ID.
func (d *DB) GetParticipant(id string) (*Participant, error) {
	p := &Participant{}
	err := d.db.QueryRow(
		`SELECT id, token, label, created_at FROM participants WHERE id = ?`, id,
	).Scan(&p.ID, &p.Token, &p.Label, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

// GetParticipantByToken resolves an API token to a participant.
func (d *DB) GetParticipantByToken(token string) (*Participant, error) {
	p := &Participant{}
	err := d.db.QueryRow(
		`SELECT id, token, label, created_at FROM participants WHERE token = ?`, token,
	).Scan(&p.ID, &p.Token, &p.Label, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get participant by token: %w", err)
	}
	return p, nil
}

// --- Session CRUD ---

// CreateSession inserts a new session record.
func (d *DB) CreateSession(s *Session) error {
	var completedAt sql.NullInt64
	if s.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: *s.CompletedAt, Valid: true}
	}
	var tzOffset sql.NullInt64
	if s.TimezoneOffsetMinutes != nil {
		tzOffset = sql.NullInt64{Int64: int64(*s.TimezoneOffsetMinutes), Valid: true}
	}
	var promptRef sql.NullString
	if s.PromptRef != nil {
		promptRef = sql.NullString{String: *s.PromptRef, Valid: true}
	}
	if s.DeviceMeta == nil {
		s.DeviceMeta = map[string]any{}
	}
	_, err := d.db.Exec(
		`INSERT INTO sessions (id, participant_id, prompt_ref, is_practice, seed, task_order, rotating_task,
		                       status, started_at, completed_at, timezone_offset_minutes, device_meta,
		                       skipped_tasks, quality_flags, derived)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ParticipantID, promptRef, boolToInt(s.IsPractice), s.Seed,
		marshalJSON(s.TaskOrder), s.RotatingTask, s.Status, s.StartedAt, completedAt, tzOffset,
		marshalJSON(s.DeviceMeta), marshalJSON(orEmpty(s.SkippedTasks)),
		marshalJSON(orEmpty(s.QualityFlags)), marshalJSON(s.Derived),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func orEmpty(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	s := &Session{}
	var (
		promptRef   sql.NullString
		isPractice  int
		taskOrder   string
		completedAt sql.NullInt64
		tzOffset    sql.NullInt64
		deviceMeta  string
		skipped     string
		flags       string
		derivedVars string
	)
	err := row.Scan(&s.ID, &s.ParticipantID, &promptRef, &isPractice, &s.Seed, &taskOrder,
		&s.RotatingTask, &s.Status, &s.StartedAt, &completedAt, &tzOffset, &deviceMeta,
		&skipped, &flags, &derivedVars)
	if err != nil {
		return nil, err
	}
	if promptRef.Valid {
		s.PromptRef = &promptRef.String
	}
	s.IsPractice = isPractice != 0
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Int64
	}
	if tzOffset.Valid {
		v := int(tzOffset.Int64)
		s.TimezoneOffsetMinutes = &v
	}
	if err := json.Unmarshal([]byte(taskOrder), &s.TaskOrder); err != nil {
		return nil, fmt.Errorf("decode task order: %w", err)
	}
	if err := json.Unmarshal([]byte(deviceMeta), &s.DeviceMeta); err != nil {
		return nil, fmt.Errorf("decode device meta: %w", err)
	}
	if err := json.Unmarshal([]byte(skipped), &s.SkippedTasks); err != nil {
		return nil, fmt.Errorf("decode skipped tasks: %w", err)
	}
	if err := json.Unmarshal([]byte(flags), &s.QualityFlags); err != nil {
		return nil, fmt.Errorf("decode quality flags: %w", err)
	}
	if err := json.Unmarshal([]byte(derivedVars), &s.Derived); err != nil {
		return nil, fmt.Errorf("decode derived variables: %w", err)
	}
	return s, nil
}

const sessionColumns = `id, participant_id, prompt_ref, is_practice, seed, task_order, rotating_task,
	status, started_at, completed_at, timezone_offset_minutes, device_meta, skipped_tasks, quality_flags, derived`

// GetSession retrieves a session by ID.
func (d *DB) GetSession(id string) (*Session, error) {
	s, err := scanSession(d.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// UpdateSessionMeta stores the timezone offset and device metadata posted once
// per task page load. Nil arguments leave the stored value untouched.
func (d *DB) UpdateSessionMeta(id string, tzOffsetMinutes *int, deviceMeta map[string]any) error {
	if tzOffsetMinutes != nil {
		if _, err := d.db.Exec(
			`UPDATE sessions SET timezone_offset_minutes = ? WHERE id = ?`, *tzOffsetMinutes, id,
		); err != nil {
			return fmt.Errorf("update session tz offset: %w", err)
		}
	}
	if deviceMeta != nil {
		if _, err := d.db.Exec(
			`UPDATE sessions SET device_meta = ? WHERE id = ?`, marshalJSON(deviceMeta), id,
		); err != nil {
			return fmt.Errorf("update session device meta: %w", err)
		}
	}
	return nil
}

// AppendQualityFlags merges new flags into the session's flag list. Existing
// flags are never removed.
func (d *DB) AppendQualityFlags(id string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("append quality flags: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRow(`SELECT quality_flags FROM sessions WHERE id = ?`, id).Scan(&raw); err != nil {
		return fmt.Errorf("append quality flags: %w", err)
	}
	var existing []string
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return fmt.Errorf("append quality flags: decode: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range flags {
		if !seen[f] {
			seen[f] = true
			existing = append(existing, f)
		}
	}
	if _, err := tx.Exec(`UPDATE sessions SET quality_flags = ? WHERE id = ?`, marshalJSON(existing), id); err != nil {
		return fmt.Errorf("append quality flags: %w", err)
	}
	return tx.Commit()
}

// AppendSkippedTask records a task type as skipped for the session.
func (d *DB) AppendSkippedTask(id, taskType string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("append skipped task: %w", err)
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRow(`SELECT skipped_tasks FROM sessions WHERE id = ?`, id).Scan(&raw); err != nil {
		return fmt.Errorf("append skipped task: %w", err)
	}
	var skipped []string
	if err := json.Unmarshal([]byte(raw), &skipped); err != nil {
		return fmt.Errorf("append skipped task: decode: %w", err)
	}
	for _, t := range skipped {
		if t == taskType {
			return tx.Commit()
		}
	}
	skipped = append(skipped, taskType)
	if _, err := tx.Exec(`UPDATE sessions SET skipped_tasks = ? WHERE id = ?`, marshalJSON(skipped), id); err != nil {
		return fmt.Errorf("append skipped task: %w", err)
	}
	return tx.Commit()
}

// SetSessionStatus transitions a session's status, stamping completed_at for
// terminal statuses.
func (d *DB) SetSessionStatus(id, status string, completedAt int64) error {
	var err error
	if status == SessionInProgress {
		_, err = d.db.Exec(`UPDATE sessions SET status = ?, completed_at = NULL WHERE id = ?`, status, id)
	} else {
		_, err = d.db.Exec(`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`, status, completedAt, id)
	}
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

// CountVoluntarySessionsSince counts non-practice, non-prompted sessions for
// a participant started at or after the cutoff.
func (d *DB) CountVoluntarySessionsSince(participantID string, sinceMs int64) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM sessions
		 WHERE participant_id = ? AND is_practice = 0 AND prompt_ref IS NULL AND started_at >= ?`,
		participantID, sinceMs,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count voluntary sessions: %w", err)
	}
	return n, nil
}

// CountRotatingSessionsBetween counts sessions for a participant within
// [fromMs, toMs) whose battery included a rotating task.
func (d *DB) CountRotatingSessionsBetween(participantID string, fromMs, toMs int64) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM sessions
		 WHERE participant_id = ? AND rotating_task != '' AND started_at >= ? AND started_at < ?`,
		participantID, fromMs, toMs,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rotating sessions: %w", err)
	}
	return n, nil
}

// HasTerminalSessionSince reports whether the participant has another session
// (excluding excludeID) in a terminal status whose completion falls at or
// after the cutoff.
func (d *DB) HasTerminalSessionSince(participantID, excludeID string, cutoffMs int64) (bool, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM sessions
		 WHERE participant_id = ? AND id != ? AND status != ? AND completed_at IS NOT NULL AND completed_at >= ?`,
		participantID, excludeID, SessionInProgress, cutoffMs,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check terminal sessions: %w", err)
	}
	return n > 0, nil
}

// MarkAbandonedBefore flips in-progress sessions started before the cutoff to
// abandoned. Returns the number of sessions swept.
func (d *DB) MarkAbandonedBefore(cutoffMs, nowMs int64) (int, error) {
	res, err := d.db.Exec(
		`UPDATE sessions SET status = ?, completed_at = ? WHERE status = ? AND started_at < ?`,
		SessionAbandoned, nowMs, SessionInProgress, cutoffMs,
	)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark abandoned rows affected: %w", err)
	}
	return int(n), nil
}

// --- Task result persistence ---

// NextResultIndices returns the running per-participant result counts to be
// stored on the next TaskResult: one across all task types and one for this
// task type alone.
func (d *DB) NextResultIndices(participantID, taskType string) (overall, perTask int, err error) {
	err = d.db.QueryRow(
		`SELECT COUNT(*) FROM task_results r JOIN sessions s ON r.session_id = s.id
		 WHERE s.participant_id = ?`, participantID,
	).Scan(&overall)
	if err != nil {
		return 0, 0, fmt.Errorf("count results: %w", err)
	}
	err = d.db.QueryRow(
		`SELECT COUNT(*) FROM task_results r JOIN sessions s ON r.session_id = s.id
		 WHERE s.participant_id = ? AND r.task_type = ?`, participantID, taskType,
	).Scan(&perTask)
	if err != nil {
		return 0, 0, fmt.Errorf("count results per task: %w", err)
	}
	return overall + 1, perTask + 1, nil
}

// ErrSessionComplete is returned by PersistResult when the session reached the
// complete status between validation and the serialized write.
var ErrSessionComplete = errors.New("session already complete")

// PersistResult writes a task result and advances the session cursor within a
// single write transaction, so two near-simultaneous submissions for one
// session cannot both advance past the same task. Returns the next task type
// (empty when the battery is done) and whether the session was completed by
// this submission. Partial submissions leave the session abandoned rather
// than complete.
func (d *DB) PersistResult(r *TaskResult, nowMs int64) (nextTask string, completed bool, err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return "", false, fmt.Errorf("persist result: %w", err)
	}
	defer tx.Rollback()

	// No-op self-assignment takes SQLite's write lock up front, serializing
	// concurrent submissions for the same session.
	if _, err := tx.Exec(`UPDATE sessions SET status = status WHERE id = ?`, r.SessionID); err != nil {
		return "", false, fmt.Errorf("persist result: lock session: %w", err)
	}

	var status, taskOrderRaw, skippedRaw string
	err = tx.QueryRow(
		`SELECT status, task_order, skipped_tasks FROM sessions WHERE id = ?`, r.SessionID,
	).Scan(&status, &taskOrderRaw, &skippedRaw)
	if err != nil {
		return "", false, fmt.Errorf("persist result: read session: %w", err)
	}
	if status == SessionComplete {
		return "", false, ErrSessionComplete
	}

	_, err = tx.Exec(
		`INSERT INTO task_results (id, session_id, task_type, task_version, started_at, ended_at,
		                           duration_ms, input_modality, trial_data, summary,
		                           index_overall, index_per_task, is_partial)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.TaskType, r.TaskVersion, r.StartedAt, r.EndedAt,
		r.DurationMs, r.InputModality, marshalJSON(r.Trials), marshalJSON(r.Summary),
		r.IndexOverall, r.IndexPerTask, boolToInt(r.IsPartial),
	)
	if err != nil {
		return "", false, fmt.Errorf("persist result: insert: %w", err)
	}

	var taskOrder, skipped []string
	if err := json.Unmarshal([]byte(taskOrderRaw), &taskOrder); err != nil {
		return "", false, fmt.Errorf("persist result: decode task order: %w", err)
	}
	if err := json.Unmarshal([]byte(skippedRaw), &skipped); err != nil {
		return "", false, fmt.Errorf("persist result: decode skipped: %w", err)
	}

	done := make(map[string]bool)
	rows, err := tx.Query(`SELECT DISTINCT task_type FROM task_results WHERE session_id = ?`, r.SessionID)
	if err != nil {
		return "", false, fmt.Errorf("persist result: list done types: %w", err)
	}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			rows.Close()
			return "", false, fmt.Errorf("persist result: scan done type: %w", err)
		}
		done[t] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("persist result: %w", err)
	}
	for _, t := range skipped {
		done[t] = true
	}

	for _, t := range taskOrder {
		if !done[t] {
			nextTask = t
			break
		}
	}

	if r.IsPartial {
		// Partial acceptance: data is kept but the session is
		// accepted-but-abandoned, never complete.
		if _, err := tx.Exec(
			`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`,
			SessionAbandoned, nowMs, r.SessionID,
		); err != nil {
			return "", false, fmt.Errorf("persist result: abandon session: %w", err)
		}
	} else if nextTask == "" {
		if _, err := tx.Exec(
			`UPDATE sessions SET status = ?, completed_at = ? WHERE id = ?`,
			SessionComplete, nowMs, r.SessionID,
		); err != nil {
			return "", false, fmt.Errorf("persist result: complete session: %w", err)
		}
		completed = true
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("persist result: commit: %w", err)
	}
	return nextTask, completed, nil
}

// ListResultTypes returns the distinct task types with a persisted result for
// the session.
func (d *DB) ListResultTypes(sessionID string) ([]string, error) {
	rows, err := d.db.Query(`SELECT DISTINCT task_type FROM task_results WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list result types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan result type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// ListResults returns all task results for a session.
func (d *DB) ListResults(sessionID string) ([]TaskResult, error) {
	rows, err := d.db.Query(
		`SELECT id, session_id, task_type, task_version, started_at, ended_at, duration_ms,
		        input_modality, trial_data, summary, index_overall, index_per_task, is_partial
		 FROM task_results WHERE session_id = ? ORDER BY started_at`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []TaskResult
	for rows.Next() {
		var r TaskResult
		var trials, summary string
		var partial int
		if err := rows.Scan(&r.ID, &r.SessionID, &r.TaskType, &r.TaskVersion, &r.StartedAt, &r.EndedAt,
			&r.DurationMs, &r.InputModality, &trials, &summary, &r.IndexOverall, &r.IndexPerTask, &partial); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(trials), &r.Trials); err != nil {
			return nil, fmt.Errorf("decode trials: %w", err)
		}
		if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		r.IsPartial = partial != 0
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Interruption events ---

// InsertInterruptions appends interruption events for a session. These persist
// independent of whether the associated task run's data was accepted.
func (d *DB) InsertInterruptions(events []InterruptionEvent) error {
	for _, e := range events {
		_, err := d.db.Exec(
			`INSERT INTO interruption_events (id, session_id, task_type, type, at) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, e.TaskType, e.Type, e.At,
		)
		if err != nil {
			return fmt.Errorf("insert interruption: %w", err)
		}
	}
	return nil
}

// CountInterruptions returns the total interruption events logged for the session.
func (d *DB) CountInterruptions(sessionID string) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM interruption_events WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count interruptions: %w", err)
	}
	return n, nil
}

// ListInterruptions returns the interruption events for a session in
// chronological order.
func (d *DB) ListInterruptions(sessionID string) ([]InterruptionEvent, error) {
	rows, err := d.db.Query(
		`SELECT id, session_id, task_type, type, at FROM interruption_events
		 WHERE session_id = ? ORDER BY at`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list interruptions: %w", err)
	}
	defer rows.Close()

	var events []InterruptionEvent
	for rows.Next() {
		var e InterruptionEvent
		var taskType sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &taskType, &e.Type, &e.At); err != nil {
			return nil, fmt.Errorf("scan interruption: %w", err)
		}
		e.TaskType = taskType.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Exposure events ---

// CreateExposure inserts a cold-exposure event.
func (d *DB) CreateExposure(e *ExposureEvent) error {
	var temp sql.NullFloat64
	if e.WaterTempC != nil {
		temp = sql.NullFloat64{Float64: *e.WaterTempC, Valid: true}
	}
	_, err := d.db.Exec(
		`INSERT INTO exposure_events (id, participant_id, at, duration_minutes, water_temp_c, context)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ParticipantID, e.At, e.DurationMinutes, temp, e.Context,
	)
	if err != nil {
		return fmt.Errorf("create exposure: %w", err)
	}
	return nil
}

// ListExposures returns a participant's exposure events ordered by timestamp.
func (d *DB) ListExposures(participantID string) ([]ExposureEvent, error) {
	rows, err := d.db.Query(
		`SELECT id, participant_id, at, duration_minutes, water_temp_c, context
		 FROM exposure_events WHERE participant_id = ? ORDER BY at`, participantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list exposures: %w", err)
	}
	defer rows.Close()

	var events []ExposureEvent
	for rows.Next() {
		var e ExposureEvent
		var temp sql.NullFloat64
		var context sql.NullString
		if err := rows.Scan(&e.ID, &e.ParticipantID, &e.At, &e.DurationMinutes, &temp, &context); err != nil {
			return nil, fmt.Errorf("scan exposure: %w", err)
		}
		if temp.Valid {
			e.WaterTempC = &temp.Float64
		}
		e.Context = context.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Mood ratings ---

// UpsertMoodRating stores the session's mood rating, keeping the first write
// if one already exists.
func (d *DB) UpsertMoodRating(m *MoodRating) error {
	_, err := d.db.Exec(
		`INSERT INTO mood_ratings (session_id, valence, arousal, stress, sharpness)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		m.SessionID, m.Valence, m.Arousal, m.Stress, m.Sharpness,
	)
	if err != nil {
		return fmt.Errorf("upsert mood rating: %w", err)
	}
	return nil
}

// GetMoodRating retrieves the mood rating for a session.
func (d *DB) GetMoodRating(sessionID string) (*MoodRating, error) {
	m := &MoodRating{}
	err := d.db.QueryRow(
		`SELECT session_id, valence, arousal, stress, sharpness FROM mood_ratings WHERE session_id = ?`,
		sessionID,
	).Scan(&m.SessionID, &m.Valence, &m.Arousal, &m.Stress, &m.Sharpness)
	if err != nil {
		return nil, fmt.Errorf("get mood rating: %w", err)
	}
	return m, nil
}
