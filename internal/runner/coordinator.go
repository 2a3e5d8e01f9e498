package runner

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/polarlab/brisk/internal/task"
)

// Coordinator enforces the single-active-task rule and routes terminal
// outcomes to the submitter. Starting a new task force-aborts any instance
// still in flight. Every terminal outcome gets exactly one submission
// attempt; an attempt made while offline fails immediately without touching
// the network, and a failed or rejected attempt is never retried with the
// same payload.
type Coordinator struct {
	mu        sync.Mutex
	registry  *task.Registry
	submitter Submitter
	clock     Clock

	active  *Runner
	offline bool

	// InputModality tags submissions, for example "keyboard" or "touch".
	InputModality string

	// Timings overrides the variant scheduling parameters. Zero fields use
	// the defaults.
	Timings Timings

	// OnStimulus, when set, is forwarded to every runner this coordinator
	// starts. Drivers use it to present stimuli and respond.
	OnStimulus func(r *Runner, st Stimulus, index int)
}

// NewCoordinator wires the coordinator to the registry and submitter.
func NewCoordinator(registry *task.Registry, submitter Submitter, clock Clock) *Coordinator {
	if clock == nil {
		clock = RealClock()
	}
	return &Coordinator{
		registry:      registry,
		submitter:     submitter,
		clock:         clock,
		InputModality: "keyboard",
	}
}

// StartTask begins a run for the session's next task. A prior active runner
// is aborted first so at most one task instance exists at a time.
func (c *Coordinator) StartTask(ctx context.Context, sessionID, taskType, seed string) (*Runner, error) {
	def, ok := c.registry.Get(taskType)
	if !ok {
		return nil, fmt.Errorf("start task: unknown task type %q", taskType)
	}

	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		prev.Abort(ReasonSuperseded)
	}

	var r *Runner
	r, err := New(Config{
		SessionID: sessionID,
		Def:       def,
		Seed:      seed,
		Clock:     c.clock,
		Timings:   c.Timings,
		OnFinish:  func(o *Outcome) { c.handleFinish(ctx, o) },
		OnStimulus: func(st Stimulus, index int) {
			if c.OnStimulus != nil {
				c.OnStimulus(r, st, index)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.active = r
	c.mu.Unlock()

	if err := r.Start(); err != nil {
		return nil, err
	}
	return r, nil
}

// SetOffline toggles connectivity. Going offline aborts the active run; its
// submission attempt fails on the spot rather than buffering for a later
// resend.
func (c *Coordinator) SetOffline(offline bool) {
	c.mu.Lock()
	c.offline = offline
	active := c.active
	c.mu.Unlock()
	if offline && active != nil {
		active.Abort(ReasonOffline)
	}
}

// handleFinish runs once per terminal outcome and makes the single
// submission attempt. Offline attempts fail without a network call; failures
// and rejections discard the payload.
func (c *Coordinator) handleFinish(ctx context.Context, o *Outcome) {
	c.mu.Lock()
	if c.active != nil && c.active.sessionID == o.SessionID && c.active.def.Type == o.TaskType {
		c.active = nil
	}
	offline := c.offline || o.AbortReason == ReasonOffline
	c.mu.Unlock()

	if offline {
		log.Printf("[runner] %s result discarded: offline", o.TaskType)
		return
	}
	if _, err := c.submitter.Submit(ctx, NewSubmission(o, c.InputModality)); err != nil {
		log.Printf("[runner] %s result discarded: %v", o.TaskType, err)
	}
}
