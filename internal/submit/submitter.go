// Package submit validates and publishes jobs to the broker. Submission
// is the only place Jobs are created.
package submit

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/registry"
)

// Publisher is the broker surface the submitter needs: a confirmed,
// durable publish to the work exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error
}

// Options are the caller-controlled submission parameters.
type Options struct {
	// Priority overrides the type's default when non-empty.
	Priority string
	// Owner is required for rate-limited job types.
	Owner job.Owner
	// CorrelationID optionally links related jobs for tracing.
	CorrelationID string
}

// Submitter validates submissions against the job type registry and
// publishes them with publisher-confirm semantics.
type Submitter struct {
	registry  *registry.Registry
	publisher Publisher
	logger    *slog.Logger
}

// New creates a Submitter.
func New(reg *registry.Registry, pub Publisher, logger *slog.Logger) *Submitter {
	return &Submitter{
		registry:  reg,
		publisher: pub,
		logger:    logger,
	}
}

// Submit validates, serializes, and durably publishes a job, returning
// its id. The registry is consulted before any broker contact, so an
// unknown type never reaches the wire. Submission is not retried on
// broker failure: the caller decides, which avoids silent duplicates.
func (s *Submitter) Submit(ctx context.Context, jobType string, payload []byte, opts Options) (string, error) {
	def, err := s.registry.Lookup(jobType)
	if err != nil {
		return "", err
	}

	if len(payload) == 0 {
		return "", fmt.Errorf("%w: payload is required", job.ErrValidation)
	}

	priority := def.DefaultPriority
	if opts.Priority != "" {
		priority, err = job.ParsePriority(opts.Priority)
		if err != nil {
			return "", err
		}
	}

	if def.RateLimit.Limited() && opts.Owner.TenantID == "" {
		return "", fmt.Errorf("%w: owner context is required for rate-limited type %q", job.ErrValidation, jobType)
	}

	j := job.New(def, payload, priority, opts.Owner, opts.CorrelationID)

	body, err := job.Encode(j)
	if err != nil {
		return "", err
	}

	routingKey := def.RoutingKey(priority)
	headers := amqp.Table{
		job.HeaderRetryCount: int32(0),
		job.HeaderJobType:    j.Type,
	}
	if j.CorrelationID != "" {
		headers[job.HeaderCorrelationID] = j.CorrelationID
	}

	if err := s.publisher.Publish(ctx, routingKey, body, headers); err != nil {
		s.logger.Error("Failed to publish job",
			slog.String("job_id", j.ID),
			slog.String("job_type", j.Type),
			slog.Any("error", err),
		)
		return "", fmt.Errorf("%w: %v", job.ErrBrokerUnavailable, err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
		slog.String("status", job.StatusQueued),
		slog.String("priority", priority.String()),
		slog.String("routing_key", routingKey),
		slog.String("tenant_id", opts.Owner.TenantID),
	)

	return j.ID, nil
}
