// Package retry decides what happens after a failed attempt: re-enqueue
// with backoff or hand off to the dead-letter path. The coordinator is
// the sole writer of a job's retry count.
package retry

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/backoff"
	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/registry"
)

// Decision is the terminal outcome of HandleFailure.
type Decision int

const (
	// Requeued means the job was re-published through a delay queue.
	Requeued Decision = iota
	// DeadLettered means the job was routed to the dead-letter
	// destination and will never be re-enqueued.
	DeadLettered
)

// Outcome reports what the coordinator did with a failed job.
type Outcome struct {
	Decision Decision
	// Delay is the scheduled re-enqueue delay for Requeued outcomes.
	Delay time.Duration
}

// Publisher is the broker surface the coordinator needs.
type Publisher interface {
	PublishDelayed(ctx context.Context, delay time.Duration, routingKey string, body []byte, headers amqp.Table) error
	PublishDead(ctx context.Context, body []byte, headers amqp.Table) error
}

// Coordinator applies retry policy to failed jobs.
type Coordinator struct {
	registry   *registry.Registry
	publisher  Publisher
	logger     *slog.Logger
	strategies map[string]backoff.Strategy
}

// New creates a Coordinator. Backoff strategies are resolved once per
// job type; a type with invalid backoff configuration falls back to the
// default (configuration is validated at load, so this is a safety net).
func New(reg *registry.Registry, pub Publisher, logger *slog.Logger) *Coordinator {
	strategies := make(map[string]backoff.Strategy)
	for _, def := range reg.Definitions() {
		s, err := backoff.New(def.Backoff)
		if err != nil {
			s = backoff.Default()
		}
		strategies[def.Type] = s
	}

	return &Coordinator{
		registry:   reg,
		publisher:  pub,
		logger:     logger,
		strategies: strategies,
	}
}

// HandleFailure routes a failed job: under the retry limit it bumps the
// retry count and schedules a delayed re-publish; at the limit, or for
// non-retryable errors, it publishes a dead-letter envelope. The
// suggested delay, when positive, overrides the type's backoff (handlers
// may know the transient condition's duration, e.g. a Retry-After).
func (c *Coordinator) HandleFailure(ctx context.Context, j *job.Job, jobErr error, suggested time.Duration) (Outcome, error) {
	if !job.IsRetryable(jobErr) {
		c.logger.Warn("Job failed with non-retryable error, dead-lettering",
			slog.String("job_id", j.ID),
			slog.String("job_type", j.Type),
			slog.Any("error", jobErr),
		)
		return c.deadLetter(ctx, j, jobErr)
	}

	if j.RetriesExhausted() {
		c.logger.Warn("Job exhausted retry budget, dead-lettering",
			slog.String("job_id", j.ID),
			slog.String("job_type", j.Type),
			slog.Int("retry_count", j.RetryCount),
			slog.Int("max_retries", j.MaxRetries),
			slog.Any("error", jobErr),
		)
		return c.deadLetter(ctx, j, jobErr)
	}

	j.RetryCount++

	delay := suggested
	if delay <= 0 {
		strategy, ok := c.strategies[j.Type]
		if !ok {
			strategy = backoff.Default()
		}
		delay = strategy.Delay(j.RetryCount)
	}

	body, err := job.Encode(j)
	if err != nil {
		return Outcome{}, err
	}

	routingKey := "priority." + j.Priority.String()
	if def, lookupErr := c.registry.Lookup(j.Type); lookupErr == nil {
		routingKey = def.RoutingKey(j.Priority)
	}

	headers := amqp.Table{
		job.HeaderRetryCount: int32(j.RetryCount),
		job.HeaderJobType:    j.Type,
	}
	if j.CorrelationID != "" {
		headers[job.HeaderCorrelationID] = j.CorrelationID
	}

	if err := c.publisher.PublishDelayed(ctx, delay, routingKey, body, headers); err != nil {
		return Outcome{}, err
	}

	c.logger.Info("Job requeued with backoff",
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
		slog.String("status", job.StatusRequeued),
		slog.Int("retry_count", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
		slog.Any("error", jobErr),
	)

	return Outcome{Decision: Requeued, Delay: delay}, nil
}

func (c *Coordinator) deadLetter(ctx context.Context, j *job.Job, jobErr error) (Outcome, error) {
	body, err := job.Encode(j)
	if err != nil {
		return Outcome{}, err
	}

	headers := amqp.Table{
		job.HeaderRetryCount: int32(j.RetryCount),
		job.HeaderJobType:    j.Type,
		job.HeaderFinalError: jobErr.Error(),
		job.HeaderFailedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := c.publisher.PublishDead(ctx, body, headers); err != nil {
		return Outcome{}, err
	}

	c.logger.Info("Job dead-lettered",
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
		slog.String("status", job.StatusDeadLettered),
		slog.Int("retry_count", j.RetryCount),
	)

	return Outcome{Decision: DeadLettered}, nil
}
