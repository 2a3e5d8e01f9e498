package task

import (
	"fmt"
	"math"
	"sort"
)

// ComputeSummary recomputes a task's summary metrics from raw trial data.
// This is the server-side source of truth for summary_metrics; client-declared
// values are only ever used for discrepancy checking.
func ComputeSummary(taskType string, trials []Trial, durationMs int) (Summary, error) {
	switch taskType {
	case TypePVT:
		return PVTSummary(trials), nil
	case TypeSART:
		return SARTSummary(trials), nil
	case TypeFlanker:
		return FlankerSummary(trials), nil
	case TypeDigitSymbol:
		return DigitSymbolSummary(trials, durationMs), nil
	case TypeMood:
		return MoodSummary(trials), nil
	default:
		return nil, fmt.Errorf("compute summary: unknown task type %q", taskType)
	}
}

// PVT valid-response window in milliseconds. Responses faster than the lower
// bound are anticipations; slower than 500 ms is a lapse; nothing beyond the
// upper bound counts as a valid reaction time.
const (
	pvtValidMinMs = 100
	pvtValidMaxMs = 2000
	pvtLapseMs    = 500
)

// PVTSummary computes vigilance-task metrics: central tendency and spread of
// valid reaction times (100-2000 ms), lapse count (>500 ms) and anticipation
// count (<100 ms or pre-stimulus).
func PVTSummary(trials []Trial) Summary {
	anticipations := 0
	lapses := 0
	var valid []int
	for _, t := range trials {
		if t.IsAnticipation {
			anticipations++
			continue
		}
		if !t.Responded || t.RTMs == nil {
			continue
		}
		rt := *t.RTMs
		if rt > pvtLapseMs {
			lapses++
		}
		if rt >= pvtValidMinMs && rt <= pvtValidMaxMs {
			valid = append(valid, rt)
		}
	}

	s := Summary{
		"lapse_count":        fptr(float64(lapses)),
		"anticipation_count": fptr(float64(anticipations)),
		"valid_trial_count":  fptr(float64(len(valid))),
		"median_rt":          nil,
		"mean_rt":            nil,
		"rt_sd":              nil,
	}
	if len(valid) == 0 {
		return s
	}
	s["median_rt"] = fptr(median(valid))
	s["mean_rt"] = fptr(mean(valid))
	if len(valid) > 1 {
		s["rt_sd"] = fptr(stdev(valid))
	} else {
		s["rt_sd"] = fptr(0)
	}
	return s
}

// SARTSummary computes sustained-attention metrics: commission errors
// (responses on no-go trials), omission errors (misses on go trials), go-trial
// RT statistics and post-error slowing once three or more commission errors
// exist.
func SARTSummary(trials []Trial) Summary {
	commissions := 0
	omissions := 0
	var goRTs []int
	for _, t := range trials {
		if t.IsNogo {
			if t.Responded {
				commissions++
			}
			continue
		}
		if !t.Responded {
			omissions++
			continue
		}
		if t.RTMs != nil {
			goRTs = append(goRTs, *t.RTMs)
		}
	}

	s := Summary{
		"commission_errors":  fptr(float64(commissions)),
		"omission_errors":    fptr(float64(omissions)),
		"go_median_rt":       nil,
		"go_rt_sd":           nil,
		"post_error_slowing": nil,
	}
	var goMedian *float64
	if len(goRTs) > 0 {
		goMedian = fptr(median(goRTs))
		s["go_median_rt"] = goMedian
	}
	if len(goRTs) > 1 {
		s["go_rt_sd"] = fptr(stdev(goRTs))
	}

	// Post-error slowing: mean RT on the go trial immediately following a
	// commission error, relative to the overall go median. Only reported when
	// there are enough errors to make the contrast meaningful.
	if commissions >= 3 && goMedian != nil {
		var postRTs []int
		for i, t := range trials {
			if !t.IsNogo || !t.Responded || i+1 >= len(trials) {
				continue
			}
			next := trials[i+1]
			if !next.IsNogo && next.Responded && next.RTMs != nil {
				postRTs = append(postRTs, *next.RTMs)
			}
		}
		if len(postRTs) > 0 {
			s["post_error_slowing"] = fptr(mean(postRTs) - *goMedian)
		}
	}
	return s
}

// FlankerSummary computes conflict-task metrics: median RT and accuracy per
// congruency condition plus the conflict effect (incongruent minus congruent
// median RT).
func FlankerSummary(trials []Trial) Summary {
	var congRTs, incongRTs []int
	congTotal, incongTotal := 0, 0
	congCorrect, incongCorrect := 0, 0
	for _, t := range trials {
		if t.IsCongruent {
			congTotal++
			if t.Correct {
				congCorrect++
			}
			if t.Responded && t.RTMs != nil {
				congRTs = append(congRTs, *t.RTMs)
			}
		} else {
			incongTotal++
			if t.Correct {
				incongCorrect++
			}
			if t.Responded && t.RTMs != nil {
				incongRTs = append(incongRTs, *t.RTMs)
			}
		}
	}

	s := Summary{
		"congruent_median_rt":   nil,
		"incongruent_median_rt": nil,
		"conflict_effect_ms":    nil,
		"congruent_accuracy":    nil,
		"incongruent_accuracy":  nil,
	}
	var cMed, iMed *float64
	if len(congRTs) > 0 {
		cMed = fptr(median(congRTs))
		s["congruent_median_rt"] = cMed
	}
	if len(incongRTs) > 0 {
		iMed = fptr(median(incongRTs))
		s["incongruent_median_rt"] = iMed
	}
	if cMed != nil && iMed != nil {
		s["conflict_effect_ms"] = fptr(*iMed - *cMed)
	}
	if congTotal > 0 {
		s["congruent_accuracy"] = fptr(float64(congCorrect) / float64(congTotal))
	}
	if incongTotal > 0 {
		s["incongruent_accuracy"] = fptr(float64(incongCorrect) / float64(incongTotal))
	}
	return s
}

// DigitSymbolSummary computes substitution-task metrics. durationMs is the
// total task duration and is required for the throughput metric.
func DigitSymbolSummary(trials []Trial, durationMs int) Summary {
	correct := 0
	errors := 0
	for _, t := range trials {
		if t.Correct {
			correct++
		} else if t.Responded {
			errors++
		}
	}
	responses := correct + errors

	s := Summary{
		"total_correct":      fptr(float64(correct)),
		"total_errors":       fptr(float64(errors)),
		"correct_per_minute": nil,
		"error_rate":         nil,
	}
	if durationMs > 0 {
		s["correct_per_minute"] = fptr(float64(correct) / (float64(durationMs) / 60_000))
	}
	if responses > 0 {
		s["error_rate"] = fptr(float64(errors) / float64(responses))
	}
	return s
}

// MoodSummary extracts the four ordinal ratings from the single mood trial.
func MoodSummary(trials []Trial) Summary {
	s := Summary{"valence": nil, "arousal": nil, "stress": nil, "sharpness": nil}
	if len(trials) == 0 {
		return s
	}
	t := trials[0]
	if t.Valence != nil {
		s["valence"] = fptr(float64(*t.Valence))
	}
	if t.Arousal != nil {
		s["arousal"] = fptr(float64(*t.Arousal))
	}
	if t.Stress != nil {
		s["stress"] = fptr(float64(*t.Stress))
	}
	if t.Sharpness != nil {
		s["sharpness"] = fptr(float64(*t.Sharpness))
	}
	return s
}

// CompareSummaries returns a discrepancy flag for every metric where the
// client-declared value differs from the server-computed value by more than
// tolerance (relative to the server value). Metrics absent or null on either
// side are skipped; a zero server value cannot be compared relatively.
func CompareSummaries(client map[string]float64, server Summary, tolerance float64) []string {
	var flags []string
	keys := make([]string, 0, len(server))
	for k := range server {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sv := server[k]
		if sv == nil || *sv == 0 {
			continue
		}
		cv, ok := client[k]
		if !ok {
			continue
		}
		if math.Abs((*sv-cv) / *sv) > tolerance {
			flags = append(flags, "metric_discrepancy_"+k)
		}
	}
	return flags
}

func median(xs []int) float64 {
	sorted := make([]int, len(xs))
	copy(sorted, xs)
	sort.Ints(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

func mean(xs []int) float64 {
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

// stdev is the sample standard deviation.
func stdev(xs []int) float64 {
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := float64(x) - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
