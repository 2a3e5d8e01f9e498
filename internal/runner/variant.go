package runner

import (
	"fmt"

	"github.com/polarlab/brisk/internal/seq"
	"github.com/polarlab/brisk/internal/task"
)

// Default timing values per task variant. Offsets are milliseconds of
// in-task time.
const (
	pvtISIMinMs       = 2000
	pvtISIMaxMs       = 10000
	pvtWindowMs       = 2000
	pvtAnticipationMs = 100
	pvtLapseMs        = 500

	sartStimulusMs = 250
	sartBlankMs    = 900
	sartCadenceMs  = sartStimulusMs + sartBlankMs
	sartNogoDigit  = 3

	flankerFixationMs = 500
	flankerWindowMs   = 500
)

// Timings holds the variant scheduling parameters. They are policy, not
// code: deployments override them through the config file and pass the
// result here. Zero fields keep the defaults.
type Timings struct {
	PVTISIMinMs       int
	PVTISIMaxMs       int
	PVTWindowMs       int
	SARTStimulusMs    int
	SARTBlankMs       int
	FlankerFixationMs int
	FlankerWindowMs   int
}

// DefaultTimings returns the built-in schedule.
func DefaultTimings() Timings {
	return Timings{
		PVTISIMinMs:       pvtISIMinMs,
		PVTISIMaxMs:       pvtISIMaxMs,
		PVTWindowMs:       pvtWindowMs,
		SARTStimulusMs:    sartStimulusMs,
		SARTBlankMs:       sartBlankMs,
		FlankerFixationMs: flankerFixationMs,
		FlankerWindowMs:   flankerWindowMs,
	}
}

func (t Timings) withDefaults() Timings {
	d := DefaultTimings()
	if t.PVTISIMinMs == 0 {
		t.PVTISIMinMs = d.PVTISIMinMs
	}
	if t.PVTISIMaxMs == 0 {
		t.PVTISIMaxMs = d.PVTISIMaxMs
	}
	if t.PVTWindowMs == 0 {
		t.PVTWindowMs = d.PVTWindowMs
	}
	if t.SARTStimulusMs == 0 {
		t.SARTStimulusMs = d.SARTStimulusMs
	}
	if t.SARTBlankMs == 0 {
		t.SARTBlankMs = d.SARTBlankMs
	}
	if t.FlankerFixationMs == 0 {
		t.FlankerFixationMs = d.FlankerFixationMs
	}
	if t.FlankerWindowMs == 0 {
		t.FlankerWindowMs = d.FlankerWindowMs
	}
	return t
}

// digitSymbols is the glyph pool for the substitution task. The seeded
// permutation assigns one glyph per digit 1 through 9 for the whole run.
var digitSymbols = []string{"◆", "▲", "●", "■", "★", "✚", "☾", "♠", "♣"}

// Stimulus is one planned presentation. DeadlineMs of zero means the trial
// is response paced; CadenceMs of zero means the next trial is scheduled as
// soon as this one resolves.
type Stimulus struct {
	OnsetDelayMs int
	DeadlineMs   int
	CadenceMs    int

	Digit       int
	IsNogo      bool
	IsCongruent bool
	Direction   string
	TargetDigit int
	Options     []string
	Answer      string
	Prompt      string
}

// Input carries the participant's response to the active stimulus. Variants
// read only the field that applies to them.
type Input struct {
	Direction string
	Option    string
	Rating    int
}

// Variant generates and classifies stimuli for one task type. All randomness
// comes from the seeded stream, so a seed replays the identical run.
type Variant interface {
	Type() string

	// Next draws the stimulus for trial index i. ok is false when the
	// variant has a fixed trial count and is finished.
	Next(s *seq.Stream, index int) (st Stimulus, ok bool)

	// Classify folds a response into the trial record. rtMs is relative to
	// stimulus onset.
	Classify(st Stimulus, tr *task.Trial, in Input, rtMs int)

	// Finalize post-processes the recorded trials before summary
	// computation. Most variants return them unchanged.
	Finalize(trials []task.Trial) []task.Trial
}

// earlyResponder marks variants that record a response arriving before
// stimulus onset instead of discarding it.
type earlyResponder interface {
	ClassifyEarly(tr *task.Trial)
}

// NewVariant returns the variant for a registered task type.
func NewVariant(taskType string, tm Timings) (Variant, error) {
	tm = tm.withDefaults()
	switch taskType {
	case task.TypePVT:
		return vigilanceVariant{tm: tm}, nil
	case task.TypeSART:
		return sustainedVariant{tm: tm}, nil
	case task.TypeFlanker:
		return conflictVariant{tm: tm}, nil
	case task.TypeDigitSymbol:
		return &substitutionVariant{}, nil
	case task.TypeMood:
		return moodVariant{}, nil
	}
	return nil, fmt.Errorf("new variant: unknown task type %q", taskType)
}

// vigilanceVariant implements the reaction-time probe: a stimulus appears
// after a random inter-stimulus interval and the participant responds as
// fast as possible.
type vigilanceVariant struct {
	tm Timings
}

func (vigilanceVariant) Type() string { return task.TypePVT }

func (v vigilanceVariant) Next(s *seq.Stream, index int) (Stimulus, bool) {
	return Stimulus{
		OnsetDelayMs: s.MillisBetween(v.tm.PVTISIMinMs, v.tm.PVTISIMaxMs),
		DeadlineMs:   v.tm.PVTWindowMs,
	}, true
}

func (vigilanceVariant) Classify(st Stimulus, tr *task.Trial, in Input, rtMs int) {
	tr.RTMs = task.IntPtr(rtMs)
	tr.IsAnticipation = rtMs < pvtAnticipationMs
	tr.IsLapse = !tr.IsAnticipation && rtMs > pvtLapseMs
}

// ClassifyEarly records a false start: a tap during the inter-stimulus
// interval is an anticipation with no reaction time.
func (vigilanceVariant) ClassifyEarly(tr *task.Trial) {
	tr.IsAnticipation = true
}

func (vigilanceVariant) Finalize(trials []task.Trial) []task.Trial { return trials }

// sustainedVariant implements the go/no-go stream: digits at a fixed cadence,
// respond to every digit except the no-go digit.
type sustainedVariant struct {
	tm Timings
}

func (sustainedVariant) Type() string { return task.TypeSART }

func (v sustainedVariant) Next(s *seq.Stream, index int) (Stimulus, bool) {
	digit := 1 + s.IntN(9)
	cadence := v.tm.SARTStimulusMs + v.tm.SARTBlankMs
	return Stimulus{
		DeadlineMs: cadence,
		CadenceMs:  cadence,
		Digit:      digit,
		IsNogo:     digit == sartNogoDigit,
	}, true
}

func (sustainedVariant) Classify(st Stimulus, tr *task.Trial, in Input, rtMs int) {
	tr.RTMs = task.IntPtr(rtMs)
}

func (sustainedVariant) Finalize(trials []task.Trial) []task.Trial { return trials }

// conflictVariant implements the arrow-flanker task: a fixation interval,
// then a congruent or incongruent arrow array with a fixed response window.
type conflictVariant struct {
	tm Timings
}

func (conflictVariant) Type() string { return task.TypeFlanker }

func (v conflictVariant) Next(s *seq.Stream, index int) (Stimulus, bool) {
	dir := "left"
	if s.Bernoulli(0.5) {
		dir = "right"
	}
	return Stimulus{
		OnsetDelayMs: v.tm.FlankerFixationMs,
		DeadlineMs:   v.tm.FlankerWindowMs,
		IsCongruent:  s.Bernoulli(0.5),
		Direction:    dir,
	}, true
}

func (conflictVariant) Classify(st Stimulus, tr *task.Trial, in Input, rtMs int) {
	tr.RTMs = task.IntPtr(rtMs)
	tr.Correct = in.Direction == st.Direction
}

func (conflictVariant) Finalize(trials []task.Trial) []task.Trial { return trials }

// substitutionVariant implements the digit-symbol pairing task. The
// digit-to-glyph mapping is a seeded permutation drawn once; each trial shows
// a digit and the correct glyph among three distractors.
type substitutionVariant struct {
	mapping []string
}

func (*substitutionVariant) Type() string { return task.TypeDigitSymbol }

func (v *substitutionVariant) Next(s *seq.Stream, index int) (Stimulus, bool) {
	if v.mapping == nil {
		perm := s.Perm(len(digitSymbols))
		v.mapping = make([]string, len(digitSymbols))
		for i, p := range perm {
			v.mapping[i] = digitSymbols[p]
		}
	}
	digit := 1 + s.IntN(9)
	answer := v.mapping[digit-1]

	options := []string{answer}
	for len(options) < 4 {
		candidate := v.mapping[s.IntN(len(v.mapping))]
		dup := false
		for _, o := range options {
			if o == candidate {
				dup = true
				break
			}
		}
		if !dup {
			options = append(options, candidate)
		}
	}
	s.Shuffle(options)

	return Stimulus{
		TargetDigit: digit,
		Options:     options,
		Answer:      answer,
	}, true
}

func (*substitutionVariant) Classify(st Stimulus, tr *task.Trial, in Input, rtMs int) {
	tr.RTMs = task.IntPtr(rtMs)
	tr.Correct = in.Option == st.Answer
}

func (*substitutionVariant) Finalize(trials []task.Trial) []task.Trial { return trials }

// moodVariant presents four ordinal self-ratings, one at a time, each gated
// on the previous response. It has no duration budget and no deadlines.
type moodVariant struct{}

var moodPrompts = []string{"valence", "arousal", "stress", "sharpness"}

func (moodVariant) Type() string { return task.TypeMood }

func (moodVariant) Next(s *seq.Stream, index int) (Stimulus, bool) {
	if index >= len(moodPrompts) {
		return Stimulus{}, false
	}
	return Stimulus{Prompt: moodPrompts[index]}, true
}

func (moodVariant) Classify(st Stimulus, tr *task.Trial, in Input, rtMs int) {
	rating := in.Rating
	switch st.Prompt {
	case "valence":
		tr.Valence = task.IntPtr(rating)
	case "arousal":
		tr.Arousal = task.IntPtr(rating)
	case "stress":
		tr.Stress = task.IntPtr(rating)
	case "sharpness":
		tr.Sharpness = task.IntPtr(rating)
	}
}

// Finalize collapses the four prompt trials into the single rating record
// the summary reads.
func (moodVariant) Finalize(trials []task.Trial) []task.Trial {
	if len(trials) == 0 {
		return trials
	}
	merged := task.Trial{
		Index:        0,
		StimulusAtMs: trials[0].StimulusAtMs,
		Responded:    true,
	}
	for _, t := range trials {
		if t.Valence != nil {
			merged.Valence = t.Valence
		}
		if t.Arousal != nil {
			merged.Arousal = t.Arousal
		}
		if t.Stress != nil {
			merged.Stress = t.Stress
		}
		if t.Sharpness != nil {
			merged.Sharpness = t.Sharpness
		}
	}
	return []task.Trial{merged}
}
