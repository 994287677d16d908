package metrics

import (
	"fmt"

	"pushramp/internal/results"
)

// StopReasonSuccessRate is the stable reason code attached to a stop-rule
// abort. Human-readable specifics go in Decision.Detail.
const StopReasonSuccessRate = "success rate below threshold"

// Decision is the stop-rule's verdict for one tick. Reason is a stable
// code suitable for outcome records; Detail carries the specifics.
type Decision struct {
	Stop    bool
	Reason  string
	Detail  string
	Warning string
}

// StopRule aborts a run after a number of consecutive ticks with the success
// rate present and below the threshold. An absent success rate resets the
// streak: no data is not yet a failure.
type StopRule struct {
	Threshold      float64
	MaxConsecutive int

	streak       int
	lastRestarts int
	haveRestarts bool
}

// NewStopRule builds the rule with the configured policy.
func NewStopRule(threshold float64, maxConsecutive int) *StopRule {
	return &StopRule{Threshold: threshold, MaxConsecutive: maxConsecutive}
}

// Streak exposes the current consecutive-failure count.
func (s *StopRule) Streak() int { return s.streak }

// Evaluate consumes the latest poll row and, optionally, the latest health
// sample. The restart warning is informational only and never stops a run.
func (s *StopRule) Evaluate(row results.Row, health *results.HealthRow) Decision {
	var d Decision

	if sr := row.SuccessRate(); sr != nil && *sr < s.Threshold {
		s.streak++
	} else {
		s.streak = 0
	}
	if s.streak >= s.MaxConsecutive {
		d.Stop = true
		d.Reason = StopReasonSuccessRate
		d.Detail = fmt.Sprintf("%d consecutive ticks below %.1f%%",
			s.streak, s.Threshold)
	}

	// An unknown restart count is not an observation; comparing against it
	// would turn the first real count into a spurious warning.
	if health != nil && health.Restarts != results.UnknownValue {
		if s.haveRestarts && health.Restarts > s.lastRestarts {
			d.Warning = fmt.Sprintf("restart count increased: %d -> %d",
				s.lastRestarts, health.Restarts)
		}
		s.lastRestarts = health.Restarts
		s.haveRestarts = true
	}
	return d
}
