// Package runner drives a single task instance on the client side: seeded
// stimulus scheduling, response capture, pause and resume with timer
// reconstruction, and exactly one outcome per run.
package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/polarlab/brisk/internal/seq"
	"github.com/polarlab/brisk/internal/task"
)

// State is the runner lifecycle state. Completed and aborted are terminal;
// a terminal runner discards all further events.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// Abort reasons carried on the outcome.
const (
	ReasonManual     = "manual_abort"
	ReasonOffline    = "offline"
	ReasonSuperseded = "superseded"
	ReasonTimeout    = "timeout"
)

// Interruption is a lifecycle event observed mid-run, recorded for the
// quality flag engine.
type Interruption struct {
	Type string `json:"type"`
	AtMs int64  `json:"at"` // unix ms wall clock
}

// Outcome is emitted exactly once when the run reaches a terminal state.
type Outcome struct {
	SessionID     string
	TaskType      string
	TaskVersion   string
	State         State
	AbortReason   string
	StartedAtMs   int64
	EndedAtMs     int64
	ElapsedMs     int // in-task ms, paused intervals excluded
	Trials        []task.Trial
	Summary       task.Summary
	Interruptions []Interruption
	IsPartial     bool
}

// Config describes one task run.
type Config struct {
	SessionID string
	Def       task.Definition
	Seed      string
	Clock     Clock
	Timings   Timings
	OnFinish  func(*Outcome)

	// OnStimulus, when set, is called after each stimulus becomes active.
	// Drivers use it to present the stimulus and collect the response.
	OnStimulus func(Stimulus, int)
}

type activeTrial struct {
	stim         Stimulus
	index        int
	onsetMs      int
	deadlineAtMs int // 0 = response paced
}

type pendingTrial struct {
	stim    Stimulus
	index   int
	onsetAt int // elapsed ms at which the stimulus appears
}

// Runner is the state machine for one task instance. All methods are safe
// for concurrent use; timer callbacks race with caller events and are
// disambiguated by a generation counter.
type Runner struct {
	mu      sync.Mutex
	clock   Clock
	def     task.Definition
	variant Variant
	stream  *seq.Stream

	sessionID  string
	onFinish   func(*Outcome)
	stimNotify func(Stimulus, int)

	state State
	gen   int

	trials        []task.Trial
	cur           *activeTrial
	pending       *pendingTrial
	nextIndex     int
	interruptions []Interruption

	startedWall time.Time
	lastResume  time.Time
	accumMs     int

	durTimer   Timer
	onsetTimer Timer
	deadTimer  Timer

	outcome *Outcome
}

// New builds a runner for the given task. The clock defaults to wall time.
func New(cfg Config) (*Runner, error) {
	variant, err := NewVariant(cfg.Def.Type, cfg.Timings)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = RealClock()
	}
	return &Runner{
		clock:      clock,
		def:        cfg.Def,
		variant:    variant,
		stream:     seq.New(cfg.Seed, cfg.Def.Type),
		sessionID:  cfg.SessionID,
		onFinish:   cfg.OnFinish,
		stimNotify: cfg.OnStimulus,
		state:      StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ElapsedMs returns accumulated in-task milliseconds, excluding pauses.
func (r *Runner) ElapsedMs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedMs()
}

func (r *Runner) elapsedMs() int {
	if r.state == StateRunning {
		return r.accumMs + int(r.clock.Now().Sub(r.lastResume).Milliseconds())
	}
	return r.accumMs
}

// Start moves the runner from idle to running and schedules the first
// stimulus and the duration budget.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("start: runner is %s", r.state)
	}
	now := r.clock.Now()
	r.state = StateRunning
	r.startedWall = now
	r.lastResume = now

	st, ok := r.variant.Next(r.stream, 0)
	if !ok {
		// A variant with zero trials completes immediately.
		out := r.finishLocked(StateCompleted, "")
		r.mu.Unlock()
		r.emit(out)
		return nil
	}
	r.pending = &pendingTrial{stim: st, index: 0, onsetAt: st.OnsetDelayMs}
	r.nextIndex = 1
	r.armLocked()
	r.mu.Unlock()
	return nil
}

// Pause suspends the run, cancelling pending timers but remembering their
// positions in in-task time so Resume can reconstruct them. eventType, when
// non-empty, is recorded as an interruption.
func (r *Runner) Pause(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	now := r.clock.Now()
	r.accumMs += int(now.Sub(r.lastResume).Milliseconds())
	r.disarmLocked()
	r.state = StatePaused
	if eventType != "" {
		r.interruptions = append(r.interruptions, Interruption{Type: eventType, AtMs: now.UnixMilli()})
	}
}

// Resume continues a paused run, re-arming timers from their remembered
// in-task positions.
func (r *Runner) Resume(eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return
	}
	now := r.clock.Now()
	r.state = StateRunning
	r.lastResume = now
	if eventType != "" {
		r.interruptions = append(r.interruptions, Interruption{Type: eventType, AtMs: now.UnixMilli()})
	}
	r.armLocked()
}

// Respond delivers the participant's response to the active stimulus. A
// response arriving between stimuli is recorded as a false start when the
// variant tracks those; otherwise it is discarded. Respond reports false for
// discarded events.
func (r *Runner) Respond(in Input) bool {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return false
	}
	if r.cur == nil {
		ev, ok := r.variant.(earlyResponder)
		if !ok || r.pending == nil {
			r.mu.Unlock()
			return false
		}
		elapsed := r.elapsedMs()
		tr := task.Trial{
			Index:        r.pending.index,
			StimulusAtMs: elapsed,
			Responded:    true,
			ResponseAtMs: task.IntPtr(elapsed),
		}
		ev.ClassifyEarly(&tr)
		r.trials = append(r.trials, tr)
		// The false start takes this index; the waiting stimulus shifts up.
		r.pending.index++
		r.nextIndex++
		r.mu.Unlock()
		return true
	}
	elapsed := r.elapsedMs()
	cur := r.cur
	rt := elapsed - cur.onsetMs

	tr := stimulusTrial(cur.stim, cur.index, cur.onsetMs)
	tr.Responded = true
	tr.ResponseAtMs = task.IntPtr(elapsed)
	r.variant.Classify(cur.stim, &tr, in, rt)

	if r.deadTimer != nil {
		r.deadTimer.Stop()
		r.deadTimer = nil
	}
	r.cur = nil
	out := r.resolveLocked(cur.stim, tr, elapsed)
	r.mu.Unlock()
	r.emit(out)
	return true
}

// Complete ends the run successfully from the caller's side, for variants
// with no duration budget that finish by participant action.
func (r *Runner) Complete() {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StatePaused {
		r.mu.Unlock()
		return
	}
	out := r.finishLocked(StateCompleted, "")
	r.mu.Unlock()
	r.emit(out)
}

// Abort terminates the run with the given reason. Safe to call from any
// state; only the first terminal transition wins.
func (r *Runner) Abort(reason string) {
	r.mu.Lock()
	if r.state == StateCompleted || r.state == StateAborted {
		r.mu.Unlock()
		return
	}
	out := r.finishLocked(StateAborted, reason)
	r.mu.Unlock()
	r.emit(out)
}

// armLocked schedules timers for the current in-task position: the duration
// budget, the pending stimulus onset, and the active stimulus deadline.
func (r *Runner) armLocked() {
	gen := r.gen
	elapsed := r.elapsedMs()

	if r.def.DurationMs > 0 {
		r.durTimer = r.clock.AfterFunc(msUntil(r.def.DurationMs, elapsed), func() { r.onDuration(gen) })
	}
	if r.cur == nil && r.pending != nil {
		at := r.pending.onsetAt
		r.onsetTimer = r.clock.AfterFunc(msUntil(at, elapsed), func() { r.onStimulus(gen) })
	}
	if r.cur != nil && r.cur.deadlineAtMs > 0 {
		at := r.cur.deadlineAtMs
		r.deadTimer = r.clock.AfterFunc(msUntil(at, elapsed), func() { r.onDeadline(gen) })
	}
}

// disarmLocked invalidates all scheduled callbacks. Stop is best effort; the
// generation bump is what guarantees stale timers become no-ops.
func (r *Runner) disarmLocked() {
	r.gen++
	for _, t := range []Timer{r.durTimer, r.onsetTimer, r.deadTimer} {
		if t != nil {
			t.Stop()
		}
	}
	r.durTimer, r.onsetTimer, r.deadTimer = nil, nil, nil
}

func (r *Runner) onStimulus(gen int) {
	r.mu.Lock()
	if r.state != StateRunning || gen != r.gen || r.pending == nil {
		r.mu.Unlock()
		return
	}
	p := r.pending
	r.pending = nil
	r.cur = &activeTrial{stim: p.stim, index: p.index, onsetMs: p.onsetAt}
	if p.stim.DeadlineMs > 0 {
		r.cur.deadlineAtMs = p.onsetAt + p.stim.DeadlineMs
		deadGen := r.gen
		r.deadTimer = r.clock.AfterFunc(msUntil(r.cur.deadlineAtMs, r.elapsedMs()), func() { r.onDeadline(deadGen) })
	}
	notify := r.stimNotify
	r.mu.Unlock()
	if notify != nil {
		notify(p.stim, p.index)
	}
}

func (r *Runner) onDeadline(gen int) {
	r.mu.Lock()
	if r.state != StateRunning || gen != r.gen || r.cur == nil {
		r.mu.Unlock()
		return
	}
	cur := r.cur
	tr := stimulusTrial(cur.stim, cur.index, cur.onsetMs)
	r.cur = nil
	r.deadTimer = nil
	out := r.resolveLocked(cur.stim, tr, r.elapsedMs())
	r.mu.Unlock()
	r.emit(out)
}

func (r *Runner) onDuration(gen int) {
	r.mu.Lock()
	if r.state != StateRunning || gen != r.gen {
		r.mu.Unlock()
		return
	}
	out := r.finishLocked(StateCompleted, "")
	r.mu.Unlock()
	r.emit(out)
}

// resolveLocked records a finished trial and schedules the next stimulus.
// It returns a non-nil outcome when the variant reports no further trials.
func (r *Runner) resolveLocked(resolved Stimulus, tr task.Trial, resolvedAtMs int) *Outcome {
	r.trials = append(r.trials, tr)

	st, ok := r.variant.Next(r.stream, r.nextIndex)
	if !ok {
		return r.finishLocked(StateCompleted, "")
	}

	// Cadenced variants pace the next onset from the previous onset, not
	// from the response, so fast responses do not compress the stream.
	base := resolvedAtMs
	if resolved.CadenceMs > 0 {
		cadenced := tr.StimulusAtMs + resolved.CadenceMs
		if cadenced > base {
			base = cadenced
		}
	}

	r.pending = &pendingTrial{stim: st, index: r.nextIndex, onsetAt: base + st.OnsetDelayMs}
	r.nextIndex++
	gen := r.gen
	r.onsetTimer = r.clock.AfterFunc(msUntil(r.pending.onsetAt, resolvedAtMs), func() { r.onStimulus(gen) })
	return nil
}

// finishLocked performs the single terminal transition and builds the
// outcome. Callers emit the returned outcome after releasing the lock.
func (r *Runner) finishLocked(state State, reason string) *Outcome {
	if r.outcome != nil {
		return nil
	}
	now := r.clock.Now()
	if r.state == StateRunning {
		r.accumMs += int(now.Sub(r.lastResume).Milliseconds())
	}
	r.disarmLocked()
	r.state = state
	r.cur = nil
	r.pending = nil

	trials := r.variant.Finalize(r.trials)
	summary, err := task.ComputeSummary(r.def.Type, trials, r.def.DurationMs)
	if err != nil {
		summary = task.Summary{}
	}
	r.outcome = &Outcome{
		SessionID:     r.sessionID,
		TaskType:      r.def.Type,
		TaskVersion:   r.def.Version,
		State:         state,
		AbortReason:   reason,
		StartedAtMs:   r.startedWall.UnixMilli(),
		EndedAtMs:     now.UnixMilli(),
		ElapsedMs:     r.accumMs,
		Trials:        trials,
		Summary:       summary,
		Interruptions: r.interruptions,
		IsPartial:     state == StateAborted,
	}
	return r.outcome
}

func (r *Runner) emit(out *Outcome) {
	if out != nil && r.onFinish != nil {
		r.onFinish(out)
	}
}

func stimulusTrial(st Stimulus, index, onsetMs int) task.Trial {
	return task.Trial{
		Index:        index,
		StimulusAtMs: onsetMs,
		Digit:        st.Digit,
		IsNogo:       st.IsNogo,
		IsCongruent:  st.IsCongruent,
		Direction:    st.Direction,
		TargetDigit:  st.TargetDigit,
		Options:      st.Options,
	}
}

func msUntil(targetMs, elapsedMs int) time.Duration {
	d := targetMs - elapsedMs
	if d < 0 {
		d = 0
	}
	return time.Duration(d) * time.Millisecond
}
