package task

// Trial is one stimulus/response pair recorded by the task runner. Fields are
// a union across the five task variants; a given variant populates only the
// fields that apply to it. Offsets are milliseconds of in-task time (paused
// intervals excluded).
type Trial struct {
	Index        int  `json:"index"`
	StimulusAtMs int  `json:"stimulus_at_ms"`
	ResponseAtMs *int `json:"response_at_ms,omitempty"`
	RTMs         *int `json:"rt_ms,omitempty"`
	Responded    bool `json:"responded"`

	// Vigilance (pvt)
	IsAnticipation bool `json:"is_anticipation,omitempty"`
	IsLapse        bool `json:"is_lapse,omitempty"`

	// Sustained attention (sart)
	Digit  int  `json:"digit,omitempty"`
	IsNogo bool `json:"is_nogo,omitempty"`

	// Conflict (flanker)
	IsCongruent bool   `json:"is_congruent,omitempty"`
	Direction   string `json:"direction,omitempty"`

	// Conflict + substitution share correctness.
	Correct bool `json:"correct,omitempty"`

	// Substitution (digit_symbol)
	TargetDigit int      `json:"target_digit,omitempty"`
	Options     []string `json:"options,omitempty"`

	// Subjective state (mood): four ordinal 1-5 ratings on one trial.
	Valence   *int `json:"valence,omitempty"`
	Arousal   *int `json:"arousal,omitempty"`
	Stress    *int `json:"stress,omitempty"`
	Sharpness *int `json:"sharpness,omitempty"`
}

// Summary is a named metric map. Values are pointers because several metrics
// are legitimately null (for example median RT when no valid trials exist).
type Summary map[string]*float64

func fptr(v float64) *float64 { return &v }

func iptr(v int) *int { return &v }

// IntPtr returns a pointer to v. Exported for runner and test construction.
func IntPtr(v int) *int { return iptr(v) }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return fptr(v) }
