package job

import (
	"time"

	"github.com/htquang/jobcore/internal/backoff"
)

// Severity classifies the operational impact of a terminally failed job
// of a given type.
type Severity string

const (
	// SeverityCritical pages an operator immediately (billing-affecting
	// job types).
	SeverityCritical Severity = "critical"
	// SeverityUser triggers a best-effort user-facing failure notice
	// (user-content job types).
	SeverityUser Severity = "user"
	// SeverityRoutine is logged for periodic review.
	SeverityRoutine Severity = "routine"
)

// RateLimit bounds concurrent in-flight jobs for a type. Zero values
// disable the corresponding cap.
type RateLimit struct {
	MaxConcurrent         int     `yaml:"max_concurrent"`
	MaxConcurrentPerOwner int     `yaml:"max_concurrent_per_owner"`
	PerSecond             float64 `yaml:"per_second"`
}

// Limited reports whether any cap is configured for the type. Types with
// limits require an owner context at submission.
func (r RateLimit) Limited() bool {
	return r.MaxConcurrent > 0 || r.MaxConcurrentPerOwner > 0 || r.PerSecond > 0
}

// Definition is a job type registry entry. Definitions are created at
// process start from static configuration and are read-only afterwards.
type Definition struct {
	Type            string
	DedicatedQueue  bool
	DefaultPriority Priority
	MaxRetries      int
	Timeout         time.Duration
	Backoff         backoff.Config
	RateLimit       RateLimit
	Severity        Severity
}

// QueueName returns the durable queue this type's jobs land on: the
// shared per-priority queue, or a dedicated queue when the type is
// isolated for independent scaling.
func (d *Definition) QueueName(p Priority) string {
	if d.DedicatedQueue {
		return "jobs." + d.Type
	}
	return "jobs." + p.String()
}

// RoutingKey returns the routing key the submitter publishes under for
// the given effective priority.
func (d *Definition) RoutingKey(p Priority) string {
	if d.DedicatedQueue {
		return "type." + d.Type
	}
	return "priority." + p.String()
}
