// Package quality computes advisory integrity flags over a session's
// accumulated data. Flags are appended to the session and never removed; they
// exist for downstream filtering in analysis and never block submission or
// session progress.
package quality

import (
	"github.com/polarlab/brisk/internal/task"
)

// Flag names stored in a session's quality_flags list.
const (
	FlagAnticipationBurst       = "anticipation_burst"
	FlagExcessiveMisses         = "excessive_misses"
	FlagRapidResubmission       = "rapid_resubmission"
	FlagExcessiveInterruptions  = "excessive_interruptions"
	anticipationBurstThreshold  = 3
	excessiveMissProportion     = 0.5
	excessiveInterruptionsLimit = 2
)

// AnticipationBurst reports whether three or more anticipation-class
// responses occur within a single task run.
func AnticipationBurst(trials []task.Trial) bool {
	n := 0
	for _, t := range trials {
		if t.IsAnticipation {
			n++
		}
	}
	return n >= anticipationBurstThreshold
}

// ExcessiveMisses reports whether more than half of the trials in a run have
// no response at all.
func ExcessiveMisses(trials []task.Trial) bool {
	if len(trials) == 0 {
		return false
	}
	misses := 0
	for _, t := range trials {
		if !t.Responded {
			misses++
		}
	}
	return float64(misses)/float64(len(trials)) > excessiveMissProportion
}

// ExcessiveInterruptions reports whether more than two interruption events
// have been logged for the session.
func ExcessiveInterruptions(interruptionCount int) bool {
	return interruptionCount > excessiveInterruptionsLimit
}

// Compute assembles the flag list for one submission. rapidResubmission is
// supplied by the caller from a session-history query (another session by the
// same participant reaching a terminal state within ten minutes of this one
// starting); everything else is derived from the submission itself.
func Compute(trials []task.Trial, interruptionCount int, rapidResubmission bool) []string {
	var flags []string
	if AnticipationBurst(trials) {
		flags = append(flags, FlagAnticipationBurst)
	}
	if ExcessiveMisses(trials) {
		flags = append(flags, FlagExcessiveMisses)
	}
	if rapidResubmission {
		flags = append(flags, FlagRapidResubmission)
	}
	if ExcessiveInterruptions(interruptionCount) {
		flags = append(flags, FlagExcessiveInterruptions)
	}
	return flags
}

// Merge appends newly computed flags to an existing flag list, preserving
// order and dropping duplicates already present.
func Merge(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, f := range existing {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range incoming {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
