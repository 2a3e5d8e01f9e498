// Package task defines the registry of cognitive task types in the battery
// and the server-side recomputation of summary metrics from raw trial data.
// Client-declared summaries are never trusted as the source of truth; they are
// compared against the server's own computation and discrepancies beyond a
// configured tolerance are flagged.
package task

import "fmt"

// Battery task type identifiers.
const (
	TypePVT         = "pvt"
	TypeSART        = "sart"
	TypeFlanker     = "flanker"
	TypeDigitSymbol = "digit_symbol"
	TypeMood        = "mood"
)

// Definition holds the per-type metadata used by both the server contract and
// the task runner.
type Definition struct {
	Type            string
	Label           string
	Version         string
	DurationMs      int // 0 for self-paced tasks
	MinimumViableMs int // 0 means partial saves are not allowed
	Rotating        bool
	DurationDisplay string
	Instructions    string
}

// Registry is the closed set of recognised task types. Order is the canonical
// battery order fed to the session orchestrator's seeded shuffle.
type Registry struct {
	order []string
	defs  map[string]Definition
}

// DefaultRegistry returns the registry with the built-in battery. Core tasks
// (pvt, sart, mood) are always included in a session; rotating tasks
// (flanker, digit_symbol) appear at most once per participant per calendar
// day.
func DefaultRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range []Definition{
		{
			Type:            TypePVT,
			Label:           "Psychomotor Vigilance Task",
			Version:         "1.0",
			DurationMs:      60_000,
			MinimumViableMs: 30_000,
			DurationDisplay: "~1 min",
			Instructions: "Watch the screen. When a red counter appears, tap it immediately. " +
				"The number shows your reaction time in milliseconds. The task runs for about 1 minute.",
		},
		{
			Type:            TypeSART,
			Label:           "Sustained Attention to Response Task",
			Version:         "1.0",
			DurationMs:      75_000,
			MinimumViableMs: 30_000,
			DurationDisplay: "~75 sec",
			Instructions: "Digits from 1 to 9 appear one at a time. Tap for every digit except 3. " +
				"When you see 3, do not tap. The task runs for about 75 seconds.",
		},
		{
			Type:            TypeFlanker,
			Label:           "Eriksen Flanker Task",
			Version:         "1.0",
			DurationMs:      75_000,
			MinimumViableMs: 30_000,
			Rotating:        true,
			DurationDisplay: "~75 sec",
			Instructions: "A row of arrows will appear. Respond Left or Right to match the centre arrow only. " +
				"Ignore the arrows on either side of it. The task runs for about 75 seconds.",
		},
		{
			Type:            TypeDigitSymbol,
			Label:           "Digit Symbol Coding",
			Version:         "1.0",
			DurationMs:      75_000,
			MinimumViableMs: 30_000,
			Rotating:        true,
			DurationDisplay: "~75 sec",
			Instructions: "A key shows which symbol matches each digit. Each round shows a digit; " +
				"pick the matching symbol. Match as many as you can before time runs out.",
		},
		{
			Type:            TypeMood,
			Label:           "Mood Rating",
			Version:         "1.0",
			DurationMs:      0,
			MinimumViableMs: 0,
			DurationDisplay: "self-paced",
			Instructions: "Rate how you feel right now on four scales: Mood, Energy, Stress and Mental Clarity. " +
				"Pick a number from 1 (low) to 5 (high) for each. There is no time limit.",
		},
	} {
		r.order = append(r.order, d.Type)
		r.defs[d.Type] = d
	}
	return r
}

// Get returns the definition for a task type.
func (r *Registry) Get(taskType string) (Definition, bool) {
	d, ok := r.defs[taskType]
	return d, ok
}

// Known reports whether the task type is registered.
func (r *Registry) Known(taskType string) bool {
	_, ok := r.defs[taskType]
	return ok
}

// Types returns all task types in canonical battery order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Core returns the always-included task types in canonical order.
func (r *Registry) Core() []string {
	var out []string
	for _, t := range r.order {
		if !r.defs[t].Rotating {
			out = append(out, t)
		}
	}
	return out
}

// Rotating returns the rotating-module task types in canonical order.
func (r *Registry) Rotating() []string {
	var out []string
	for _, t := range r.order {
		if r.defs[t].Rotating {
			out = append(out, t)
		}
	}
	return out
}

// SetMinimumViable overrides a task's minimum-viable duration. Used to apply
// policy config at startup.
func (r *Registry) SetMinimumViable(taskType string, ms int) error {
	d, ok := r.defs[taskType]
	if !ok {
		return fmt.Errorf("set minimum viable: unknown task type %q", taskType)
	}
	d.MinimumViableMs = ms
	r.defs[taskType] = d
	return nil
}

// SetDuration overrides a task's total duration.
func (r *Registry) SetDuration(taskType string, ms int) error {
	d, ok := r.defs[taskType]
	if !ok {
		return fmt.Errorf("set duration: unknown task type %q", taskType)
	}
	d.DurationMs = ms
	r.defs[taskType] = d
	return nil
}
