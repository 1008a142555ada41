package job

import "fmt"

// Priority is the advisory dispatch tier of a job. Tiers influence which
// queue a job is routed to; dispatch between tiers is weighted, not strict.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists all tiers from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// ParsePriority validates a priority string. Empty input is not valid;
// callers resolve the type's default before parsing.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
}

// Weight returns the dispatch weight used by the worker pool's weighted
// round-robin. Higher tiers drain more deliveries per cycle but lower
// tiers always keep a non-zero share, so nothing starves.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 4
	case PriorityNormal:
		return 2
	default:
		return 1
	}
}

func (p Priority) String() string {
	return string(p)
}
