package engine

import "fmt"

// QuotaEnforcer bounds the number of property recomputations in one
// drain pass.
//
// Structural cycles are caught by the evaluator's in-flight detection and
// land in a terminal circular state; the quota catches the other
// non-termination shape, a linear explosion where each recompute keeps
// marking further properties stale. Together they guarantee every drain
// terminates.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(tenantID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &OpError{
			Code:    ErrCodeQuotaExceeded,
			Message: fmt.Sprintf("tenant %s: recalculation exceeded %d steps", tenantID, q.maxSteps),
		}
	}
	return nil
}

// Current returns the current step count.
// Used for logging and diagnostics.
func (q *QuotaEnforcer) Current() int {
	return q.current
}
