package shared

import "errors"

// Period statuses shared by the close orchestrator and reporting.
const (
	PeriodStatusOpen   = "open"
	PeriodStatusClosed = "closed"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks transitions according to policy. A closed
// period is terminal; continuing requires a new open period.
func ValidatePeriodTransition(current, target string) error {
	if current == target {
		return nil
	}
	switch current {
	case "":
		if target == PeriodStatusOpen || target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}
