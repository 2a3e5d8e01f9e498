package task

import (
	"math"
	"testing"
)

func pvtTrial(rt int) Trial {
	return Trial{RTMs: iptr(rt), Responded: true, IsLapse: rt > 500}
}

func TestPVTSummary_Empty(t *testing.T) {
	s := PVTSummary(nil)
	if s["median_rt"] != nil || s["mean_rt"] != nil {
		t.Error("expected nil median/mean for empty trials")
	}
	if *s["valid_trial_count"] != 0 {
		t.Errorf("valid_trial_count = %v, want 0", *s["valid_trial_count"])
	}
	if *s["lapse_count"] != 0 || *s["anticipation_count"] != 0 {
		t.Error("expected zero lapse and anticipation counts")
	}
}

func TestPVTSummary_MedianAndMean(t *testing.T) {
	s := PVTSummary([]Trial{pvtTrial(200), pvtTrial(300), pvtTrial(400)})
	if *s["median_rt"] != 300 {
		t.Errorf("median_rt = %v, want 300", *s["median_rt"])
	}
	if *s["mean_rt"] != 300 {
		t.Errorf("mean_rt = %v, want 300", *s["mean_rt"])
	}
	if *s["valid_trial_count"] != 3 {
		t.Errorf("valid_trial_count = %v, want 3", *s["valid_trial_count"])
	}
}

func TestPVTSummary_LapseCount(t *testing.T) {
	s := PVTSummary([]Trial{pvtTrial(200), pvtTrial(600), pvtTrial(800)})
	if *s["lapse_count"] != 2 {
		t.Errorf("lapse_count = %v, want 2", *s["lapse_count"])
	}
}

func TestPVTSummary_AnticipationsExcludedFromValid(t *testing.T) {
	s := PVTSummary([]Trial{
		{RTMs: iptr(50), Responded: true, IsAnticipation: true},
		pvtTrial(300),
	})
	if *s["anticipation_count"] != 1 {
		t.Errorf("anticipation_count = %v, want 1", *s["anticipation_count"])
	}
	if *s["valid_trial_count"] != 1 {
		t.Errorf("valid_trial_count = %v, want 1", *s["valid_trial_count"])
	}
}

func TestPVTSummary_SDSingleTrialIsZero(t *testing.T) {
	s := PVTSummary([]Trial{pvtTrial(300)})
	if *s["rt_sd"] != 0 {
		t.Errorf("rt_sd = %v, want 0", *s["rt_sd"])
	}
}

func TestPVTSummary_NonResponseNotALapse(t *testing.T) {
	s := PVTSummary([]Trial{{Responded: false}})
	if *s["lapse_count"] != 0 {
		t.Errorf("lapse_count = %v, want 0 for non-response", *s["lapse_count"])
	}
	if *s["valid_trial_count"] != 0 {
		t.Errorf("valid_trial_count = %v, want 0", *s["valid_trial_count"])
	}
}

func goTrial(rt int) Trial {
	return Trial{Digit: 5, Responded: true, RTMs: iptr(rt)}
}

func nogoTrial(responded bool) Trial {
	return Trial{Digit: 3, IsNogo: true, Responded: responded}
}

func TestSARTSummary_Errors(t *testing.T) {
	s := SARTSummary([]Trial{goTrial(300), nogoTrial(true), {Digit: 7, Responded: false}})
	if *s["commission_errors"] != 1 {
		t.Errorf("commission_errors = %v, want 1", *s["commission_errors"])
	}
	if *s["omission_errors"] != 1 {
		t.Errorf("omission_errors = %v, want 1", *s["omission_errors"])
	}
}

func TestSARTSummary_GoMedian(t *testing.T) {
	s := SARTSummary([]Trial{goTrial(200), goTrial(400), goTrial(300)})
	if *s["go_median_rt"] != 300 {
		t.Errorf("go_median_rt = %v, want 300", *s["go_median_rt"])
	}
	if s["go_rt_sd"] == nil {
		t.Error("go_rt_sd should be set with multiple go trials")
	}
}

func TestSARTSummary_SDNilForSingleGoTrial(t *testing.T) {
	s := SARTSummary([]Trial{goTrial(300)})
	if s["go_rt_sd"] != nil {
		t.Errorf("go_rt_sd = %v, want nil", *s["go_rt_sd"])
	}
}

func TestSARTSummary_PostErrorSlowingRequiresThreeErrors(t *testing.T) {
	s := SARTSummary([]Trial{nogoTrial(true), goTrial(300)})
	if s["post_error_slowing"] != nil {
		t.Error("post_error_slowing should be nil below three commission errors")
	}
}

func TestSARTSummary_PostErrorSlowing(t *testing.T) {
	var trials []Trial
	for i := 0; i < 3; i++ {
		trials = append(trials, nogoTrial(true), goTrial(500))
	}
	// Baseline go trials at 300 ms pull the median down.
	for i := 0; i < 10; i++ {
		trials = append(trials, goTrial(300))
	}
	s := SARTSummary(trials)
	if s["post_error_slowing"] == nil {
		t.Fatal("post_error_slowing should be computed with three commission errors")
	}
	if *s["post_error_slowing"] <= 0 {
		t.Errorf("post_error_slowing = %v, want > 0", *s["post_error_slowing"])
	}
}

func TestFlankerSummary(t *testing.T) {
	trials := []Trial{
		{IsCongruent: true, Responded: true, Correct: true, RTMs: iptr(400)},
		{IsCongruent: true, Responded: true, Correct: false, RTMs: iptr(420)},
		{IsCongruent: false, Responded: true, Correct: true, RTMs: iptr(500)},
		{IsCongruent: false, Responded: true, Correct: true, RTMs: iptr(520)},
	}
	s := FlankerSummary(trials)
	if *s["congruent_median_rt"] != 410 {
		t.Errorf("congruent_median_rt = %v, want 410", *s["congruent_median_rt"])
	}
	if *s["incongruent_median_rt"] != 510 {
		t.Errorf("incongruent_median_rt = %v, want 510", *s["incongruent_median_rt"])
	}
	if *s["conflict_effect_ms"] != 100 {
		t.Errorf("conflict_effect_ms = %v, want 100", *s["conflict_effect_ms"])
	}
	if *s["congruent_accuracy"] != 0.5 {
		t.Errorf("congruent_accuracy = %v, want 0.5", *s["congruent_accuracy"])
	}
	if *s["incongruent_accuracy"] != 1.0 {
		t.Errorf("incongruent_accuracy = %v, want 1.0", *s["incongruent_accuracy"])
	}
}

func TestFlankerSummary_EmptyConditionsAreNil(t *testing.T) {
	s := FlankerSummary([]Trial{{IsCongruent: true, Responded: true, Correct: true, RTMs: iptr(400)}})
	if s["incongruent_median_rt"] != nil || s["conflict_effect_ms"] != nil {
		t.Error("metrics for an empty condition should be nil")
	}
}

func TestDigitSymbolSummary(t *testing.T) {
	trials := []Trial{
		{Responded: true, Correct: true},
		{Responded: true, Correct: true},
		{Responded: true, Correct: false},
	}
	s := DigitSymbolSummary(trials, 60_000)
	if *s["total_correct"] != 2 || *s["total_errors"] != 1 {
		t.Errorf("totals = %v/%v, want 2/1", *s["total_correct"], *s["total_errors"])
	}
	if *s["correct_per_minute"] != 2 {
		t.Errorf("correct_per_minute = %v, want 2", *s["correct_per_minute"])
	}
	if got, want := *s["error_rate"], 1.0/3.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("error_rate = %v, want %v", got, want)
	}
}

func TestDigitSymbolSummary_NoDuration(t *testing.T) {
	s := DigitSymbolSummary(nil, 0)
	if s["correct_per_minute"] != nil || s["error_rate"] != nil {
		t.Error("rate metrics should be nil with no duration or trials")
	}
}

func TestMoodSummary(t *testing.T) {
	s := MoodSummary([]Trial{{Valence: iptr(4), Arousal: iptr(3), Stress: iptr(2), Sharpness: iptr(5)}})
	for k, want := range map[string]float64{"valence": 4, "arousal": 3, "stress": 2, "sharpness": 5} {
		if s[k] == nil || *s[k] != want {
			t.Errorf("%s = %v, want %v", k, s[k], want)
		}
	}
	empty := MoodSummary(nil)
	if empty["valence"] != nil {
		t.Error("empty mood trials should yield nil ratings")
	}
}

func TestCompareSummaries(t *testing.T) {
	server := Summary{
		"median_rt":   fptr(300),
		"lapse_count": fptr(2),
		"rt_sd":       nil,
		"mean_rt":     fptr(0),
	}
	client := map[string]float64{
		"median_rt":   330, // 10% off
		"lapse_count": 2,
		"mean_rt":     999, // zero server value, not comparable
	}
	flags := CompareSummaries(client, server, 0.05)
	if len(flags) != 1 || flags[0] != "metric_discrepancy_median_rt" {
		t.Errorf("flags = %v, want [metric_discrepancy_median_rt]", flags)
	}
	if flags := CompareSummaries(client, server, 0.15); len(flags) != 0 {
		t.Errorf("flags at 15%% tolerance = %v, want none", flags)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := DefaultRegistry()
	if got := r.Types(); len(got) != 5 {
		t.Fatalf("types = %v, want 5 entries", got)
	}
	core, rotating := r.Core(), r.Rotating()
	if len(core) != 3 || len(rotating) != 2 {
		t.Fatalf("core = %v, rotating = %v", core, rotating)
	}
	d, ok := r.Get(TypePVT)
	if !ok || d.MinimumViableMs != 30_000 || d.DurationMs != 60_000 {
		t.Errorf("pvt definition = %+v", d)
	}
	mood, _ := r.Get(TypeMood)
	if mood.MinimumViableMs != 0 || mood.DurationMs != 0 {
		t.Errorf("mood should be self-paced with partial saves disallowed: %+v", mood)
	}
	if r.Known("stroop") {
		t.Error("unknown task type reported as known")
	}
}

func TestRegistry_Overrides(t *testing.T) {
	r := DefaultRegistry()
	if err := r.SetMinimumViable(TypeSART, 20_000); err != nil {
		t.Fatalf("SetMinimumViable: %v", err)
	}
	d, _ := r.Get(TypeSART)
	if d.MinimumViableMs != 20_000 {
		t.Errorf("MinimumViableMs = %d, want 20000", d.MinimumViableMs)
	}
	if err := r.SetMinimumViable("nope", 1); err == nil {
		t.Error("expected error for unknown task type")
	}
}
