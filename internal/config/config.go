// Package config loads the policy configuration file. The numeric policy
// constants of the submission contract (minimum-viable durations, summary
// discrepancy tolerance, voluntary session limits) are deliberately not
// hard-coded; they ship with defaults and can be overridden from a YAML file
// without code changes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/polarlab/brisk/internal/task"
)

// TaskPolicy overrides a single task type's timing policy. Nil fields keep
// the registry default.
type TaskPolicy struct {
	MinimumViableMs *int `yaml:"minimum_viable_ms"`
	DurationMs      *int `yaml:"duration_ms"`
}

// TimingPolicy overrides the variant scheduling parameters used by the task
// runner. Zero fields keep the built-in defaults.
type TimingPolicy struct {
	PVTISIMinMs       int `yaml:"pvt_isi_min_ms"`
	PVTISIMaxMs       int `yaml:"pvt_isi_max_ms"`
	PVTWindowMs       int `yaml:"pvt_window_ms"`
	SARTStimulusMs    int `yaml:"sart_stimulus_ms"`
	SARTBlankMs       int `yaml:"sart_blank_ms"`
	FlankerFixationMs int `yaml:"flanker_fixation_ms"`
	FlankerWindowMs   int `yaml:"flanker_window_ms"`
}

// Config is the top-level policy file structure.
type Config struct {
	// SummaryTolerance is the relative difference between client-declared and
	// server-computed summary metrics beyond which a discrepancy flag is
	// recorded.
	SummaryTolerance float64 `yaml:"summary_tolerance"`

	// VoluntarySessionsPerHour and VoluntarySessionsPerDay cap non-prompted
	// session starts per rolling hour and per calendar day.
	VoluntarySessionsPerHour int `yaml:"voluntary_sessions_per_hour"`
	VoluntarySessionsPerDay  int `yaml:"voluntary_sessions_per_day"`

	// AbandonAfterMinutes is how long an in-progress session may sit idle
	// before the background sweeper marks it abandoned.
	AbandonAfterMinutes int `yaml:"abandon_after_minutes"`

	// RequestsPerMinute is the per-IP request budget for mutating API routes.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	Tasks  map[string]TaskPolicy `yaml:"tasks"`
	Timing TimingPolicy          `yaml:"timing"`
}

// Default returns the built-in policy.
func Default() *Config {
	return &Config{
		SummaryTolerance:         0.05,
		VoluntarySessionsPerHour: 2,
		VoluntarySessionsPerDay:  8,
		AbandonAfterMinutes:      120,
		RequestsPerMinute:        60,
	}
}

// Load reads a policy file and merges it over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SummaryTolerance < 0 || c.SummaryTolerance > 1 {
		return fmt.Errorf("config: summary_tolerance %v out of [0,1]", c.SummaryTolerance)
	}
	if c.VoluntarySessionsPerHour < 1 {
		return fmt.Errorf("config: voluntary_sessions_per_hour must be >= 1")
	}
	if c.VoluntarySessionsPerDay < 1 {
		return fmt.Errorf("config: voluntary_sessions_per_day must be >= 1")
	}
	return nil
}

// ApplyTaskPolicies writes per-task overrides into the registry.
func (c *Config) ApplyTaskPolicies(r *task.Registry) error {
	for taskType, p := range c.Tasks {
		if p.MinimumViableMs != nil {
			if err := r.SetMinimumViable(taskType, *p.MinimumViableMs); err != nil {
				return err
			}
		}
		if p.DurationMs != nil {
			if err := r.SetDuration(taskType, *p.DurationMs); err != nil {
				return err
			}
		}
	}
	return nil
}
