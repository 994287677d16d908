package results

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"pushramp/internal/scenario"
)

// ColumnStats aggregates one metric column over a completed run.
type ColumnStats struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
	P50   float64
	P95   float64
}

// Summary is the derived, read-only aggregate of one scenario run. Computed
// once from the full results table at run end; never mutated after.
type Summary struct {
	Scenario         scenario.Spec
	Outcome          string
	Rows             int
	Started          time.Time
	Ended            time.Time
	Stats            map[string]ColumnStats
	FinalSuccessRate *float64
	PeakSeries       *float64
}

// Percentile computes the p-th percentile with linear interpolation between
// closest ranks. Returns 0 on empty input.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	k := float64(len(sorted)-1) * (p / 100.0)
	f := math.Floor(k)
	c := math.Ceil(k)
	if f == c {
		return sorted[int(k)]
	}
	return sorted[int(f)]*(c-k) + sorted[int(c)]*(k-f)
}

// Summarize computes the summary for a completed run.
func Summarize(spec scenario.Spec, rows []Row, outcome string) *Summary {
	s := &Summary{
		Scenario: spec,
		Outcome:  outcome,
		Rows:     len(rows),
		Stats:    make(map[string]ColumnStats, len(Columns)),
	}
	if len(rows) > 0 {
		s.Started = rows[0].Timestamp
		s.Ended = rows[len(rows)-1].Timestamp
	}
	for i, col := range Columns {
		var vals []float64
		for _, r := range rows {
			if v := r.Values[i]; v != nil {
				vals = append(vals, *v)
			}
		}
		if len(vals) == 0 {
			s.Stats[col] = ColumnStats{}
			continue
		}
		st := ColumnStats{Count: len(vals), Min: vals[0], Max: vals[0]}
		var sum float64
		for _, v := range vals {
			sum += v
			if v < st.Min {
				st.Min = v
			}
			if v > st.Max {
				st.Max = v
			}
		}
		st.Mean = sum / float64(len(vals))
		st.P50 = Percentile(vals, 50)
		st.P95 = Percentile(vals, 95)
		s.Stats[col] = st
	}
	if len(rows) > 0 {
		s.FinalSuccessRate = rows[len(rows)-1].SuccessRate()
	}
	if st, ok := s.Stats["active_series"]; ok && st.Count > 0 {
		peak := st.Max
		s.PeakSeries = &peak
	}
	return s
}

// Render produces the human-readable summary report.
func (s *Summary) Render() string {
	var b strings.Builder
	line := strings.Repeat("=", 78)
	fmt.Fprintf(&b, "%s\nFINAL REPORT — Scenario %s\n%s\n", line, s.Scenario.ID, line)
	fmt.Fprintf(&b, "Purpose:   %s\n", s.Scenario.Purpose)
	fmt.Fprintf(&b, "Endpoint:  %s\n", s.Scenario.Endpoint)
	fmt.Fprintf(&b, "Nodes:     %d\n", s.Scenario.Nodes)
	fmt.Fprintf(&b, "Duration:  %s (poll every %s)\n", s.Scenario.Duration, s.Scenario.PollInterval)
	fmt.Fprintf(&b, "Outcome:   %s\n", s.Outcome)
	fmt.Fprintf(&b, "Rows:      %d", s.Rows)
	if !s.Started.IsZero() {
		fmt.Fprintf(&b, " (%s — %s)", s.Started.Format(time.RFC3339), s.Ended.Format(time.RFC3339))
	}
	b.WriteString("\n")
	if s.FinalSuccessRate != nil {
		fmt.Fprintf(&b, "Final success rate: %.1f%%\n", *s.FinalSuccessRate)
	} else {
		b.WriteString("Final success rate: n/a\n")
	}
	if s.PeakSeries != nil {
		fmt.Fprintf(&b, "Peak active series: %.0f\n", *s.PeakSeries)
	}

	b.WriteString("\n--- Per-Metric Summary ---\n")
	fmt.Fprintf(&b, "%-20s %6s %12s %12s %12s %12s %12s\n",
		"metric", "n", "mean", "min", "max", "p50", "p95")
	b.WriteString(strings.Repeat("-", 92) + "\n")
	for _, col := range Columns {
		st := s.Stats[col]
		if st.Count == 0 {
			fmt.Fprintf(&b, "%-20s %6d %12s %12s %12s %12s %12s\n",
				col, 0, "-", "-", "-", "-", "-")
			continue
		}
		fmt.Fprintf(&b, "%-20s %6d %12.2f %12.2f %12.2f %12.2f %12.2f\n",
			col, st.Count, st.Mean, st.Min, st.Max, st.P50, st.P95)
	}
	b.WriteString(line + "\n")
	return b.String()
}
