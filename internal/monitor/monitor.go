// Package monitor is a passive observer of the processing pipeline:
// per-type duration histograms and outcome counters (exported through
// OpenTelemetry) plus an in-memory snapshot served by the read-only
// operational API. Alerting policy lives outside this core.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for jobcore metrics.
const meterName = "github.com/htquang/jobcore"

// Outcome labels for the outcome counter.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRateLimited  = "rate_limited"
)

// Snapshot is a point-in-time, read-only view for dashboards.
type Snapshot struct {
	QueueDepths map[string]int            `json:"queue_depths"`
	Outcomes    map[string]map[string]int `json:"outcomes"` // job_type -> outcome -> count
	CapturedAt  time.Time                 `json:"captured_at"`
}

// Monitor records processing metrics. Safe for concurrent use.
type Monitor struct {
	duration metric.Float64Histogram
	outcomes metric.Int64Counter

	mu       sync.Mutex
	depths   map[string]int
	counters map[string]map[string]int
}

// New creates a Monitor using the global OTel MeterProvider. With no
// provider configured the instruments are noops and only the in-memory
// snapshot is populated.
func New() *Monitor {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter allows tests to inject a specific meter.
func NewWithMeter(meter metric.Meter) *Monitor {
	duration, _ := meter.Float64Histogram(
		"jobcore.job.duration",
		metric.WithDescription("Duration of job processing attempts in seconds"),
		metric.WithUnit("s"),
	)
	outcomes, _ := meter.Int64Counter(
		"jobcore.job.outcomes",
		metric.WithDescription("Job attempt outcomes by type"),
		metric.WithUnit("{outcome}"),
	)

	return &Monitor{
		duration: duration,
		outcomes: outcomes,
		depths:   make(map[string]int),
		counters: make(map[string]map[string]int),
	}
}

// RecordOutcome counts one attempt outcome for a job type.
func (m *Monitor) RecordOutcome(ctx context.Context, jobType, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	))

	m.mu.Lock()
	defer m.mu.Unlock()
	byType := m.counters[jobType]
	if byType == nil {
		byType = make(map[string]int)
		m.counters[jobType] = byType
	}
	byType[outcome]++
}

// RecordDuration records the wall-clock time of one processing attempt.
func (m *Monitor) RecordDuration(ctx context.Context, jobType string, elapsed time.Duration, outcome string) {
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("job_type", jobType),
		attribute.String("outcome", outcome),
	))
}

// SetQueueDepth stores the latest observed depth for a queue.
func (m *Monitor) SetQueueDepth(queue string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queue] = depth
}

// Snapshot returns a copy of the current counters and queue depths.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	depths := make(map[string]int, len(m.depths))
	for q, d := range m.depths {
		depths[q] = d
	}

	outcomes := make(map[string]map[string]int, len(m.counters))
	for jobType, byType := range m.counters {
		copied := make(map[string]int, len(byType))
		for outcome, n := range byType {
			copied[outcome] = n
		}
		outcomes[jobType] = copied
	}

	return Snapshot{
		QueueDepths: depths,
		Outcomes:    outcomes,
		CapturedAt:  time.Now().UTC(),
	}
}
