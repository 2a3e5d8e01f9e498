// Package derived computes exposure-proximity features for a session from a
// participant's cold-exposure history. All functions are pure over the inputs
// so they can be tested without a database; the orchestrator computes the
// snapshot exactly once at session creation and freezes it onto the session,
// so events logged later never retroactively change historical values.
package derived

import (
	"time"
)

// Exposure is the minimal view of a logged cold-exposure event needed here.
type Exposure struct {
	At time.Time
}

// Proximity bin labels.
const (
	BinNoEvent = "no_event"
	BinPre     = "pre"
	Bin0to15m  = "0-15m"
	Bin15to60m = "15-60m"
	Bin1to3h   = "1-3h"
	BinOver3h  = ">3h"
)

// TimeSinceLastExposure returns the delta between the most recent exposure
// strictly before sessionAt and sessionAt itself, and false when no such
// exposure exists.
func TimeSinceLastExposure(events []Exposure, sessionAt time.Time) (time.Duration, bool) {
	var latest time.Time
	found := false
	for _, e := range events {
		if e.At.Before(sessionAt) && (!found || e.At.After(latest)) {
			latest = e.At
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return sessionAt.Sub(latest), true
}

// ProximityBin classifies a delta into a named bin. hasEvent=false maps to
// "no_event"; a negative delta (session before the exposure) maps to "pre".
// Bin edges are inclusive on the upper bound: exactly 15 minutes is "0-15m",
// exactly 60 minutes is "15-60m", exactly 3 hours is "1-3h".
func ProximityBin(delta time.Duration, hasEvent bool) string {
	if !hasEvent {
		return BinNoEvent
	}
	if delta < 0 {
		return BinPre
	}
	switch {
	case delta <= 15*time.Minute:
		return Bin0to15m
	case delta <= time.Hour:
		return Bin15to60m
	case delta <= 3*time.Hour:
		return Bin1to3h
	default:
		return BinOver3h
	}
}

// SameDayCount returns the number of exposures on the session's calendar day.
// Day boundaries follow the location of sessionAt.
func SameDayCount(events []Exposure, sessionAt time.Time) int {
	y, m, d := sessionAt.Date()
	n := 0
	for _, e := range events {
		ey, em, ed := e.At.In(sessionAt.Location()).Date()
		if ey == y && em == m && ed == d {
			n++
		}
	}
	return n
}

// RollingFrequency returns exposures per day over the trailing window of the
// given number of days ending at sessionAt. An exposure is counted when its
// timestamp falls within (sessionAt - days, sessionAt].
func RollingFrequency(events []Exposure, sessionAt time.Time, days int) float64 {
	if days <= 0 {
		return 0
	}
	windowStart := sessionAt.AddDate(0, 0, -days)
	n := 0
	for _, e := range events {
		if e.At.After(windowStart) && !e.At.After(sessionAt) {
			n++
		}
	}
	return float64(n) / float64(days)
}

// Season returns the northern-hemisphere meteorological season for t.
func Season(t time.Time) string {
	switch t.Month() {
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	case time.September, time.October, time.November:
		return "autumn"
	default:
		return "winter"
	}
}

// Snapshot is the derived-variable map frozen onto a session at creation.
// Values are either float64 or string; nulls are encoded as nil.
type Snapshot map[string]any

// Compute assembles the full derived-variable snapshot for a session starting
// at sessionAt given the participant's exposure history.
func Compute(events []Exposure, sessionAt time.Time) Snapshot {
	delta, ok := TimeSinceLastExposure(events, sessionAt)

	var sinceSeconds any
	if ok {
		sinceSeconds = delta.Seconds()
	}

	return Snapshot{
		"time_since_last_exposure_seconds": sinceSeconds,
		"proximity_bin":                    ProximityBin(delta, ok),
		"same_day_exposure_count":          float64(SameDayCount(events, sessionAt)),
		"rolling_frequency_7d":             RollingFrequency(events, sessionAt, 7),
		"rolling_frequency_28d":            RollingFrequency(events, sessionAt, 28),
		"season":                           Season(sessionAt),
	}
}
