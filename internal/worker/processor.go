package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/ratelimit"
	"github.com/htquang/jobcore/internal/registry"
	"github.com/htquang/jobcore/internal/retry"
	"github.com/htquang/jobcore/internal/task"
)

// FailureHandler routes a failed attempt to a delayed requeue or the
// dead-letter destination.
type FailureHandler interface {
	HandleFailure(ctx context.Context, j *job.Job, jobErr error, suggested time.Duration) (retry.Outcome, error)
}

// Deferrer re-publishes a delivery after a delay without consuming a
// retry attempt. Used when rate limits defer dispatch.
type Deferrer interface {
	PublishDelayed(ctx context.Context, delay time.Duration, routingKey string, body []byte, headers amqp.Table) error
}

// processor executes the per-delivery pipeline: decode, admit through
// rate limits, run the handler under its deadline, then acknowledge
// exactly once based on the outcome.
type processor struct {
	defs       *registry.Registry
	handlers   *task.Registry
	limiter    *ratelimit.Limiter
	retrier    FailureHandler
	deferrer   Deferrer
	monitor    *monitor.Monitor
	logger     *slog.Logger
	deferDelay time.Duration
}

func (p *processor) process(ctx context.Context, d amqp.Delivery) {
	j, err := job.Decode(d.Body)
	if err != nil {
		p.logger.Error("Discarding malformed delivery",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()))
		// The queue's dead-letter exchange routes the reject to the
		// dead queue, where it is recorded without a retry.
		if nackErr := d.Nack(false, false); nackErr != nil {
			p.logger.Error("Failed to reject malformed delivery",
				slog.String("error", nackErr.Error()))
		}
		return
	}

	logger := p.logger.With(
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
	)

	handler, ok := p.handlers.Get(j.Type)
	if !ok {
		p.fail(ctx, j, fmt.Errorf("%w: %q", job.ErrNoHandler, j.Type), 0, d, logger)
		return
	}

	if !p.limiter.Acquire(j.Type, j.Owner) {
		p.deferDelivery(ctx, j, d, logger)
		return
	}
	defer p.limiter.Release(j.Type, j.Owner)

	logger.Debug("Dispatching job",
		slog.String("status", job.StatusDispatched),
		slog.Int("retry_count", j.RetryCount))

	start := time.Now()
	result := p.attempt(ctx, handler, j)
	elapsed := time.Since(start)

	switch result.Disposition {
	case task.Succeeded:
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error("Failed to ack successful job",
				slog.String("error", ackErr.Error()))
			return
		}
		p.monitor.RecordOutcome(ctx, j.Type, monitor.OutcomeSuccess)
		p.monitor.RecordDuration(ctx, j.Type, elapsed, monitor.OutcomeSuccess)
		logger.Info("Job succeeded",
			slog.String("status", job.StatusSucceeded),
			slog.Duration("elapsed", elapsed),
			slog.Int("retry_count", j.RetryCount))

	case task.RetryRequested:
		reason := result.Reason
		if reason == "" {
			reason = "handler requested retry"
		}
		p.monitor.RecordDuration(ctx, j.Type, elapsed, monitor.OutcomeRetried)
		p.fail(ctx, j, job.NewRetryableError(errors.New(reason)), result.Delay, d, logger)

	default:
		attemptErr := result.Err
		if attemptErr == nil {
			attemptErr = errors.New("handler reported failure without an error")
		}
		p.monitor.RecordOutcome(ctx, j.Type, monitor.OutcomeFailure)
		p.monitor.RecordDuration(ctx, j.Type, elapsed, monitor.OutcomeFailure)
		p.fail(ctx, j, attemptErr, 0, d, logger)
	}
}

// attempt runs one handler invocation under the job's deadline. A
// handler panic is contained to the attempt and treated as a failure.
func (p *processor) attempt(ctx context.Context, handler task.Handler, j *job.Job) (result task.Result) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = task.Fail(fmt.Errorf("handler panicked: %v", r))
		}
	}()

	result = handler.Process(attemptCtx, j)
	if result.Disposition != task.Succeeded && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return task.Fail(fmt.Errorf("%w after %s", job.ErrTimeout, timeout))
	}
	return result
}

// fail hands a failed attempt to the retry coordinator and acknowledges
// the delivery only after the follow-up publish is confirmed. A routing
// failure leaves the message unacked and requeued, preserving
// at-least-once delivery.
func (p *processor) fail(ctx context.Context, j *job.Job, jobErr error, suggested time.Duration, d amqp.Delivery, logger *slog.Logger) {
	outcome, err := p.retrier.HandleFailure(ctx, j, jobErr, suggested)
	if err != nil {
		logger.Error("Failed to route failed job, requeueing delivery",
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("Failed to requeue delivery",
				slog.String("error", nackErr.Error()))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error("Failed to ack routed delivery",
			slog.String("error", ackErr.Error()))
	}

	switch outcome.Decision {
	case retry.Requeued:
		p.monitor.RecordOutcome(ctx, j.Type, monitor.OutcomeRetried)
	case retry.DeadLettered:
		p.monitor.RecordOutcome(ctx, j.Type, monitor.OutcomeDeadLettered)
	}
}

// deferDelivery re-publishes a rate-limited job through the shortest
// wait tier and acknowledges the original. The retry count is untouched;
// deferral is backpressure, not failure.
func (p *processor) deferDelivery(ctx context.Context, j *job.Job, d amqp.Delivery, logger *slog.Logger) {
	body, err := job.Encode(j)
	if err != nil {
		logger.Error("Failed to encode deferred job",
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("Failed to requeue delivery",
				slog.String("error", nackErr.Error()))
		}
		return
	}

	routingKey := "priority." + j.Priority.String()
	if def, lookupErr := p.defs.Lookup(j.Type); lookupErr == nil {
		routingKey = def.RoutingKey(j.Priority)
	}

	headers := amqp.Table{
		job.HeaderRetryCount: int32(j.RetryCount),
		job.HeaderJobType:    j.Type,
	}
	if j.CorrelationID != "" {
		headers[job.HeaderCorrelationID] = j.CorrelationID
	}

	if err := p.deferrer.PublishDelayed(ctx, p.deferDelay, routingKey, body, headers); err != nil {
		logger.Error("Failed to defer rate-limited job, requeueing delivery",
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error("Failed to requeue delivery",
				slog.String("error", nackErr.Error()))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error("Failed to ack deferred delivery",
			slog.String("error", ackErr.Error()))
		return
	}

	p.monitor.RecordOutcome(ctx, j.Type, monitor.OutcomeRateLimited)
	logger.Debug("Rate limit reached, deferred job",
		slog.String("tenant_id", j.Owner.TenantID),
		slog.Duration("delay", p.deferDelay))
}
