package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/polarlab/brisk/internal/seq"
	"github.com/polarlab/brisk/internal/task"
)

// fakeClock drives timers manually. Advance fires due callbacks in time
// order with the clock set to each timer's deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func testDef(t *testing.T, taskType string) task.Definition {
	t.Helper()
	def, ok := task.DefaultRegistry().Get(taskType)
	if !ok {
		t.Fatalf("task %s not registered", taskType)
	}
	return def
}

// firstOnsetMs replays the seeded stream to find where the first vigilance
// stimulus lands.
func firstOnsetMs(seed string) int {
	return seq.New(seed, task.TypePVT).MillisBetween(pvtISIMinMs, pvtISIMaxMs)
}

func newTestRunner(t *testing.T, taskType, seed string, clock Clock, onFinish func(*Outcome)) *Runner {
	t.Helper()
	r, err := New(Config{
		SessionID: "sess-1",
		Def:       testDef(t, taskType),
		Seed:      seed,
		Clock:     clock,
		OnFinish:  onFinish,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestVigilanceResponseTiming(t *testing.T) {
	clock := newFakeClock()
	r := newTestRunner(t, task.TypePVT, "seed-a", clock, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	onset := firstOnsetMs("seed-a")
	clock.Advance(time.Duration(onset) * time.Millisecond)
	clock.Advance(300 * time.Millisecond)
	if !r.Respond(Input{}) {
		t.Fatal("Respond rejected with active stimulus")
	}

	r.mu.Lock()
	trials := r.trials
	r.mu.Unlock()
	if len(trials) != 1 {
		t.Fatalf("trials = %d, want 1", len(trials))
	}
	tr := trials[0]
	if tr.RTMs == nil || *tr.RTMs != 300 {
		t.Errorf("rt = %v, want 300", tr.RTMs)
	}
	if tr.StimulusAtMs != onset {
		t.Errorf("stimulus at %d, want %d", tr.StimulusAtMs, onset)
	}
	if tr.IsAnticipation || tr.IsLapse {
		t.Errorf("300ms response misclassified: anticipation=%v lapse=%v", tr.IsAnticipation, tr.IsLapse)
	}
}

func TestVigilanceAnticipationAndMiss(t *testing.T) {
	clock := newFakeClock()
	r := newTestRunner(t, task.TypePVT, "seed-b", clock, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Anticipation: respond 50ms after onset.
	clock.Advance(time.Duration(firstOnsetMs("seed-b")) * time.Millisecond)
	clock.Advance(50 * time.Millisecond)
	r.Respond(Input{})

	// Miss: let the next stimulus's window lapse entirely.
	clock.Advance(time.Duration(pvtISIMaxMs+pvtWindowMs) * time.Millisecond)

	r.mu.Lock()
	trials := r.trials
	r.mu.Unlock()
	if len(trials) < 2 {
		t.Fatalf("trials = %d, want at least 2", len(trials))
	}
	if !trials[0].IsAnticipation {
		t.Error("50ms response not flagged as anticipation")
	}
	if trials[1].Responded {
		t.Error("missed stimulus recorded as responded")
	}
	if trials[1].RTMs != nil {
		t.Errorf("missed stimulus has rt %v", *trials[1].RTMs)
	}
}

func TestVigilanceFalseStartRecordedAsAnticipation(t *testing.T) {
	clock := newFakeClock()
	r := newTestRunner(t, task.TypePVT, "seed-fs", clock, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Tap during the inter-stimulus interval, before anything is on screen.
	onset := firstOnsetMs("seed-fs")
	clock.Advance(time.Duration(onset/2) * time.Millisecond)
	if !r.Respond(Input{}) {
		t.Fatal("pre-onset response discarded")
	}

	// The scheduled stimulus still appears and takes a normal response.
	clock.Advance(time.Duration(onset-onset/2) * time.Millisecond)
	clock.Advance(250 * time.Millisecond)
	if !r.Respond(Input{}) {
		t.Fatal("Respond rejected with active stimulus")
	}

	r.mu.Lock()
	trials := append([]task.Trial(nil), r.trials...)
	r.mu.Unlock()
	if len(trials) != 2 {
		t.Fatalf("trials = %d, want 2", len(trials))
	}
	fs := trials[0]
	if !fs.IsAnticipation {
		t.Error("false start not flagged as anticipation")
	}
	if fs.RTMs != nil {
		t.Errorf("false start has rt %v, want none", *fs.RTMs)
	}
	if !fs.Responded {
		t.Error("false start not recorded as a response")
	}
	if trials[1].RTMs == nil || *trials[1].RTMs != 250 {
		t.Errorf("post-onset rt = %v, want 250", trials[1].RTMs)
	}
	if fs.Index != 0 || trials[1].Index != 1 {
		t.Errorf("trial indices = %d,%d, want 0,1", fs.Index, trials[1].Index)
	}

	summary, err := task.ComputeSummary(task.TypePVT, trials, 60000)
	if err != nil {
		t.Fatalf("ComputeSummary: %v", err)
	}
	if v := summary["anticipation_count"]; v == nil || *v != 1 {
		t.Errorf("anticipation_count = %v, want 1", v)
	}
}

func TestConflictResponseWindow(t *testing.T) {
	v, err := NewVariant(task.TypeFlanker, Timings{})
	if err != nil {
		t.Fatalf("NewVariant: %v", err)
	}
	st, ok := v.Next(seq.New("seed-w", task.TypeFlanker), 0)
	if !ok {
		t.Fatal("no stimulus")
	}
	if st.DeadlineMs != 500 {
		t.Errorf("response window = %d, want 500", st.DeadlineMs)
	}
	if st.OnsetDelayMs != 500 {
		t.Errorf("fixation = %d, want 500", st.OnsetDelayMs)
	}

	v, err = NewVariant(task.TypeFlanker, Timings{FlankerWindowMs: 800})
	if err != nil {
		t.Fatalf("NewVariant with override: %v", err)
	}
	st, _ = v.Next(seq.New("seed-w", task.TypeFlanker), 0)
	if st.DeadlineMs != 800 {
		t.Errorf("overridden window = %d, want 800", st.DeadlineMs)
	}
}

func TestPauseExcludesTimeAndReconstructsTimers(t *testing.T) {
	clock := newFakeClock()
	r := newTestRunner(t, task.TypePVT, "seed-c", clock, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	onset := firstOnsetMs("seed-c")
	half := onset / 2
	clock.Advance(time.Duration(half) * time.Millisecond)
	r.Pause("visibility_hidden")

	// Wall time passes while paused; nothing may fire and in-task time
	// stands still.
	clock.Advance(time.Hour)
	if got := r.ElapsedMs(); got != half {
		t.Errorf("elapsed while paused = %d, want %d", got, half)
	}
	r.mu.Lock()
	active := r.cur
	r.mu.Unlock()
	if active != nil {
		t.Fatal("stimulus fired while paused")
	}

	r.Resume("visibility_visible")
	clock.Advance(time.Duration(onset-half) * time.Millisecond)
	clock.Advance(200 * time.Millisecond)
	if !r.Respond(Input{}) {
		t.Fatal("Respond rejected after resume")
	}

	r.mu.Lock()
	tr := r.trials[0]
	n := len(r.interruptions)
	r.mu.Unlock()
	if tr.StimulusAtMs != onset {
		t.Errorf("stimulus at %d in-task ms, want %d", tr.StimulusAtMs, onset)
	}
	if tr.RTMs == nil || *tr.RTMs != 200 {
		t.Errorf("rt = %v, want 200", tr.RTMs)
	}
	if n != 2 {
		t.Errorf("interruptions = %d, want 2", n)
	}
}

func TestDurationBudgetCompletes(t *testing.T) {
	clock := newFakeClock()
	var got *Outcome
	finishes := 0
	r := newTestRunner(t, task.TypePVT, "seed-d", clock, func(o *Outcome) {
		got = o
		finishes++
	})
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if r.State() != StateCompleted {
		t.Fatalf("state = %s, want completed", r.State())
	}
	if finishes != 1 {
		t.Fatalf("finish callbacks = %d, want exactly 1", finishes)
	}
	if got.IsPartial {
		t.Error("completed run marked partial")
	}
	if got.ElapsedMs != 60000 {
		t.Errorf("elapsed = %d, want 60000", got.ElapsedMs)
	}
	if got.Summary == nil {
		t.Error("outcome has no summary")
	}

	// Terminal runner discards everything.
	if r.Respond(Input{}) {
		t.Error("Respond accepted after completion")
	}
	r.Abort(ReasonManual)
	if finishes != 1 {
		t.Errorf("finish callbacks after late abort = %d, want 1", finishes)
	}
}

func TestAbortProducesPartialOutcome(t *testing.T) {
	clock := newFakeClock()
	var got *Outcome
	r := newTestRunner(t, task.TypePVT, "seed-e", clock, func(o *Outcome) { got = o })
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(35 * time.Second)
	r.Abort(ReasonManual)

	if got == nil {
		t.Fatal("no outcome emitted")
	}
	if !got.IsPartial {
		t.Error("aborted run not marked partial")
	}
	if got.AbortReason != ReasonManual {
		t.Errorf("abort reason = %q, want %q", got.AbortReason, ReasonManual)
	}
	if got.ElapsedMs != 35000 {
		t.Errorf("elapsed = %d, want 35000", got.ElapsedMs)
	}
}

func TestSustainedCadenceAndNogo(t *testing.T) {
	clock := newFakeClock()
	r := newTestRunner(t, task.TypeSART, "seed-f", clock, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Replay the stream to know each digit in advance.
	replay := seq.New("seed-f", task.TypeSART)
	for i := 0; i < 5; i++ {
		digit := 1 + replay.IntN(9)
		clock.Advance(100 * time.Millisecond) // stimulus on screen
		if digit != sartNogoDigit {
			if !r.Respond(Input{}) {
				t.Fatalf("trial %d: Respond rejected", i)
			}
		}
		// Run out the rest of the cadence slot.
		clock.Advance(time.Duration(sartCadenceMs-100) * time.Millisecond)
	}

	r.mu.Lock()
	trials := append([]task.Trial(nil), r.trials...)
	r.mu.Unlock()
	if len(trials) != 5 {
		t.Fatalf("trials = %d, want 5", len(trials))
	}
	for i, tr := range trials {
		wantOnset := i * sartCadenceMs
		if tr.StimulusAtMs != wantOnset {
			t.Errorf("trial %d onset = %d, want %d", i, tr.StimulusAtMs, wantOnset)
		}
		if tr.IsNogo != (tr.Digit == sartNogoDigit) {
			t.Errorf("trial %d: digit %d nogo flag %v", i, tr.Digit, tr.IsNogo)
		}
		if tr.IsNogo && tr.Responded {
			t.Errorf("trial %d: withheld trial recorded as responded", i)
		}
		if !tr.IsNogo && !tr.Responded {
			t.Errorf("trial %d: go trial recorded as omission", i)
		}
	}
}

func TestMoodGatedPromptsComplete(t *testing.T) {
	clock := newFakeClock()
	var got *Outcome
	r := newTestRunner(t, task.TypeMood, "seed-g", clock, func(o *Outcome) { got = o })
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(time.Millisecond) // fire the zero-delay onset
	for _, rating := range []int{4, 3, 2, 5} {
		clock.Advance(2 * time.Second)
		if !r.Respond(Input{Rating: rating}) {
			t.Fatal("rating rejected")
		}
		clock.Advance(time.Millisecond)
	}

	if r.State() != StateCompleted {
		t.Fatalf("state = %s, want completed after four ratings", r.State())
	}
	if got == nil {
		t.Fatal("no outcome emitted")
	}
	if len(got.Trials) != 1 {
		t.Fatalf("finalized trials = %d, want 1", len(got.Trials))
	}
	tr := got.Trials[0]
	if tr.Valence == nil || *tr.Valence != 4 {
		t.Errorf("valence = %v, want 4", tr.Valence)
	}
	if tr.Sharpness == nil || *tr.Sharpness != 5 {
		t.Errorf("sharpness = %v, want 5", tr.Sharpness)
	}
	if v := got.Summary["stress"]; v == nil || *v != 2 {
		t.Errorf("summary stress = %v, want 2", v)
	}
}

func TestSeedReplaysIdenticalSchedule(t *testing.T) {
	run := func() []task.Trial {
		clock := newFakeClock()
		r := newTestRunner(t, task.TypeSART, "seed-h", clock, nil)
		if err := r.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		clock.Advance(10 * sartCadenceMs * time.Millisecond)
		r.mu.Lock()
		defer r.mu.Unlock()
		return append([]task.Trial(nil), r.trials...)
	}

	a, b := run(), run()
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Digit != b[i].Digit || a[i].StimulusAtMs != b[i].StimulusAtMs {
			t.Errorf("trial %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

type fakeSubmitter struct {
	mu    sync.Mutex
	subs  []*Submission
	calls int
	fail  bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, sub *Submission) (*Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	f.subs = append(f.subs, sub)
	return &Ack{Accepted: true}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCoordinatorSupersedesActiveRun(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	c := NewCoordinator(task.DefaultRegistry(), sub, clock)

	first, err := c.StartTask(context.Background(), "sess-1", task.TypePVT, "seed-i")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	clock.Advance(5 * time.Second)

	if _, err := c.StartTask(context.Background(), "sess-1", task.TypeSART, "seed-i"); err != nil {
		t.Fatalf("StartTask second: %v", err)
	}
	if first.State() != StateAborted {
		t.Errorf("first runner state = %s, want aborted", first.State())
	}

	// The superseded run gets its one submission attempt; the server decides
	// whether a 5s partial is worth keeping.
	if n := sub.count(); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
	got := sub.subs[0]
	if !got.IsPartial || got.AbortReason != ReasonSuperseded {
		t.Errorf("submission partial=%v reason=%q, want partial superseded", got.IsPartial, got.AbortReason)
	}
	if got.DurationMs != 5000 {
		t.Errorf("duration = %d, want 5000", got.DurationMs)
	}
}

func TestCoordinatorOfflineDiscardsWithoutNetwork(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	c := NewCoordinator(task.DefaultRegistry(), sub, clock)

	r, err := c.StartTask(context.Background(), "sess-1", task.TypePVT, "seed-j")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	clock.Advance(35 * time.Second)

	c.SetOffline(true)
	if r.State() != StateAborted {
		t.Fatalf("runner state = %s, want aborted on connectivity loss", r.State())
	}
	if n := sub.callCount(); n != 0 {
		t.Fatalf("offline abort made %d network calls", n)
	}

	// Connectivity returning does not resend the discarded payload.
	c.SetOffline(false)
	if n := sub.callCount(); n != 0 {
		t.Errorf("going back online made %d network calls", n)
	}
}

func TestCoordinatorFailedSubmitNotRetried(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{fail: true}
	c := NewCoordinator(task.DefaultRegistry(), sub, clock)

	if _, err := c.StartTask(context.Background(), "sess-1", task.TypePVT, "seed-k"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	clock.Advance(2 * time.Minute) // run to completion; the submit fails

	if n := sub.callCount(); n != 1 {
		t.Fatalf("submit attempts = %d, want exactly 1", n)
	}

	// The next run submits fresh; the failed payload stays gone.
	sub.mu.Lock()
	sub.fail = false
	sub.mu.Unlock()
	if _, err := c.StartTask(context.Background(), "sess-1", task.TypeSART, "seed-k"); err != nil {
		t.Fatalf("StartTask second: %v", err)
	}
	clock.Advance(2 * time.Minute)

	if n := sub.count(); n != 1 {
		t.Fatalf("delivered submissions = %d, want 1", n)
	}
	if sub.subs[0].TaskType != task.TypeSART {
		t.Errorf("delivered task = %s, want the second run only", sub.subs[0].TaskType)
	}
}

func TestCoordinatorSubmitsBelowViablePartial(t *testing.T) {
	clock := newFakeClock()
	sub := &fakeSubmitter{}
	c := NewCoordinator(task.DefaultRegistry(), sub, clock)

	r, err := c.StartTask(context.Background(), "sess-1", task.TypePVT, "seed-l")
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	clock.Advance(2 * time.Second)
	r.Pause("visibility_hidden")
	r.Resume("visibility_visible")
	clock.Advance(3 * time.Second)
	r.Abort(ReasonManual)

	// Even a run far below the viable minimum submits once, so the server
	// sees its interruption events before rejecting it.
	if n := sub.count(); n != 1 {
		t.Fatalf("submissions = %d, want 1", n)
	}
	got := sub.subs[0]
	if !got.IsPartial || got.AbortReason != ReasonManual {
		t.Errorf("submission partial=%v reason=%q, want partial manual_abort", got.IsPartial, got.AbortReason)
	}
	if got.DurationMs != 5000 {
		t.Errorf("duration = %d, want 5000", got.DurationMs)
	}
	if len(got.Interruptions) != 2 {
		t.Errorf("interruptions = %d, want 2", len(got.Interruptions))
	}
}
