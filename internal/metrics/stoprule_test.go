package metrics

import (
	"testing"
	"time"

	"pushramp/internal/results"
)

func rowWithRate(sr *float64) results.Row {
	r := results.NewRow(time.Now())
	if sr != nil {
		r.Set("success_rate", *sr)
	}
	return r
}

func f(v float64) *float64 { return &v }

func TestStopRuleFiresAfterThreeConsecutive(t *testing.T) {
	// From the property table: [92, 93, 96, 80, 80, 80] stops at the 6th
	// observation, not earlier.
	rule := NewStopRule(95, 3)
	seq := []*float64{f(92), f(93), f(96), f(80), f(80), f(80)}
	for i, sr := range seq {
		d := rule.Evaluate(rowWithRate(sr), nil)
		stopped := d.Stop
		wantStop := i == 5
		if stopped != wantStop {
			t.Fatalf("observation %d: stop=%v, want %v (streak %d)", i+1, stopped, wantStop, rule.Streak())
		}
		if stopped {
			if d.Reason != StopReasonSuccessRate {
				t.Fatalf("reason code %q, want %q", d.Reason, StopReasonSuccessRate)
			}
			if d.Detail == "" {
				t.Fatal("stop decision carries no detail")
			}
		}
	}
}

func TestStopRuleAbsentValueResetsStreak(t *testing.T) {
	// A deliberate policy choice carried from the original tool: missing
	// data is "not yet a failure", so it resets the streak rather than
	// counting toward it.
	rule := NewStopRule(95, 3)
	seq := []*float64{f(80), f(80), nil, f(80), f(80)}
	for i, sr := range seq {
		d := rule.Evaluate(rowWithRate(sr), nil)
		if d.Stop {
			t.Fatalf("rule fired at observation %d, absent value must reset the streak", i+1)
		}
	}
	if rule.Streak() != 2 {
		t.Fatalf("streak = %d, want 2", rule.Streak())
	}
}

func TestStopRuleHealthyValueResets(t *testing.T) {
	rule := NewStopRule(95, 3)
	for _, sr := range []*float64{f(80), f(80), f(99), f(80), f(80)} {
		if d := rule.Evaluate(rowWithRate(sr), nil); d.Stop {
			t.Fatal("rule fired without three consecutive failures")
		}
	}
}

func TestStopRuleExactThresholdIsHealthy(t *testing.T) {
	rule := NewStopRule(95, 3)
	for i := 0; i < 5; i++ {
		if d := rule.Evaluate(rowWithRate(f(95)), nil); d.Stop {
			t.Fatal("95%% is at the threshold, not below it")
		}
	}
}

func TestRestartWarningDoesNotStop(t *testing.T) {
	rule := NewStopRule(95, 3)
	h1 := &results.HealthRow{Restarts: 0}
	h2 := &results.HealthRow{Restarts: 1}

	d := rule.Evaluate(rowWithRate(f(100)), h1)
	if d.Warning != "" {
		t.Fatalf("first sample must not warn: %q", d.Warning)
	}
	d = rule.Evaluate(rowWithRate(f(100)), h2)
	if d.Warning == "" {
		t.Fatal("restart increase must surface a warning")
	}
	if d.Stop {
		t.Fatal("restart warning must never stop a run")
	}
}

func TestRestartWarningSkipsUnknownCounts(t *testing.T) {
	// The monitor writes UnknownValue when the count could not be taken.
	// It is a sentinel, not an observation, so it must never anchor a
	// comparison.
	rule := NewStopRule(95, 3)
	unknown := &results.HealthRow{Restarts: results.UnknownValue}

	if d := rule.Evaluate(rowWithRate(f(100)), unknown); d.Warning != "" {
		t.Fatalf("unknown count must not warn: %q", d.Warning)
	}
	if d := rule.Evaluate(rowWithRate(f(100)), &results.HealthRow{Restarts: 0}); d.Warning != "" {
		t.Fatalf("first real count after unknown must not warn: %q", d.Warning)
	}
	if d := rule.Evaluate(rowWithRate(f(100)), unknown); d.Warning != "" {
		t.Fatalf("unknown count must not warn: %q", d.Warning)
	}
	if d := rule.Evaluate(rowWithRate(f(100)), &results.HealthRow{Restarts: 1}); d.Warning == "" {
		t.Fatal("real increase across an unknown gap must still warn")
	}
}
