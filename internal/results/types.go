package results

import "time"

// Columns is the fixed ordered set of named metrics in a results table.
// The CSV header is "timestamp" followed by these names.
var Columns = []string{
	"success_rate",
	"p50_ms",
	"p95_ms",
	"max_ms",
	"push_rate",
	"active_series",
	"memory_bytes",
	"cpu_rate",
	"scrape_duration_ms",
	"samples_scraped",
}

// Row is one poll tick of backend metrics. A nil value means the metric was
// absent or unparseable for that tick; it is never coerced to zero.
type Row struct {
	Timestamp time.Time
	Values    []*float64 // parallel to Columns
}

// NewRow returns an empty row stamped with ts.
func NewRow(ts time.Time) Row {
	return Row{Timestamp: ts, Values: make([]*float64, len(Columns))}
}

// Set stores a value for the named column. Unknown names are ignored.
func (r Row) Set(name string, v float64) {
	for i, c := range Columns {
		if c == name {
			val := v
			r.Values[i] = &val
			return
		}
	}
}

// Value returns the value for the named column, or nil when absent.
func (r Row) Value(name string) *float64 {
	for i, c := range Columns {
		if c == name {
			return r.Values[i]
		}
	}
	return nil
}

// SuccessRate returns the success-rate field, the stop-rule's input.
func (r Row) SuccessRate() *float64 {
	return r.Value("success_rate")
}

// UnknownValue is the sentinel written when a health sample could not be
// taken. Distinct from zero: zero restarts is a real observation.
const UnknownValue = -1

// Health events recorded alongside regular samples.
const (
	HealthEventRestart = "restart"
	HealthEventOOM     = "oom_kill"
)

// HealthRow is one sample of workload health, produced by the monitor on its
// own cadence into its own table.
type HealthRow struct {
	Timestamp  time.Time
	CPUMillis  int64
	MemBytes   int64
	Restarts   int
	Event      string
	ErrorLines int
}
