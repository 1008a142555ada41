package deadletter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/registry"
	"github.com/htquang/jobcore/internal/task"
)

// fallbackError is recorded when a message reaches the dead queue
// without an explicit failure header, e.g. via broker-side TTL expiry.
const fallbackError = "message expired or rejected without failure context"

// Recorder persists terminal failure records.
type Recorder interface {
	Insert(ctx context.Context, record *job.DeadLetterRecord) error
}

// Handler consumes the dead queue: it persists each terminal failure
// and routes the notification by the job type's severity.
type Handler struct {
	recorder Recorder
	defs     *registry.Registry
	handlers *task.Registry
	logger   *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHandler creates a dead-letter consumer.
func NewHandler(recorder Recorder, defs *registry.Registry, handlers *task.Registry, logger *slog.Logger) *Handler {
	return &Handler{
		recorder: recorder,
		defs:     defs,
		handlers: handlers,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start consumes deliveries until the channel closes or Stop is called.
func (h *Handler) Start(deliveries <-chan amqp.Delivery) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.stopChan:
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				h.handle(context.Background(), d)
			}
		}
	}()
}

// Stop terminates the consume loop and waits for in-flight handling.
func (h *Handler) Stop() {
	close(h.stopChan)
	h.wg.Wait()
}

func (h *Handler) handle(ctx context.Context, d amqp.Delivery) {
	record, decoded := h.buildRecord(d)

	if err := h.recorder.Insert(ctx, record); err != nil {
		h.logger.Error("Failed to persist dead letter record, requeueing",
			slog.String("job_id", record.JobID),
			slog.String("error", err.Error()))
		if nackErr := d.Nack(false, true); nackErr != nil {
			h.logger.Error("Failed to nack dead letter delivery",
				slog.String("job_id", record.JobID),
				slog.String("error", nackErr.Error()))
		}
		return
	}

	h.notify(ctx, record, decoded)

	if err := d.Ack(false); err != nil {
		h.logger.Error("Failed to ack dead letter delivery",
			slog.String("job_id", record.JobID),
			slog.String("error", err.Error()))
	}
}

// buildRecord extracts a persistable record from a dead delivery. A
// malformed body still yields a record so the failure is never lost.
func (h *Handler) buildRecord(d amqp.Delivery) (*job.DeadLetterRecord, *job.Job) {
	record := &job.DeadLetterRecord{
		Payload:    d.Body,
		FinalError: fallbackError,
		FailedAt:   time.Now().UTC(),
	}

	if v, ok := d.Headers[job.HeaderFinalError].(string); ok && v != "" {
		record.FinalError = v
	} else if reason := deathReason(d.Headers); reason != "" {
		record.FinalError = reason
	}
	if v, ok := d.Headers[job.HeaderFailedAt].(string); ok {
		if failedAt, err := time.Parse(time.RFC3339Nano, v); err == nil {
			record.FailedAt = failedAt
		}
	}

	j, err := job.Decode(d.Body)
	if err != nil {
		record.JobID = d.MessageId
		if v, ok := d.Headers[job.HeaderJobType].(string); ok {
			record.JobType = v
		}
		h.logger.Warn("Dead letter body is not a decodable job",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()))
		return record, nil
	}

	record.JobID = j.ID
	record.JobType = j.Type
	record.Payload = j.Payload
	record.RetryCount = j.RetryCount
	record.CreatedAt = j.CreatedAt
	record.OwnerTenantID = j.Owner.TenantID
	record.OwnerUserID = j.Owner.UserID
	return record, j
}

// deathReason inspects the broker's x-death header for messages that
// arrived via queue-level dead-lettering rather than an explicit
// publish (TTL expiry, rejected malformed bodies).
func deathReason(headers amqp.Table) string {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok || len(deaths) == 0 {
		return ""
	}
	death, ok := deaths[0].(amqp.Table)
	if !ok {
		return ""
	}
	switch death["reason"] {
	case "expired":
		return "message ttl expired"
	case "rejected":
		return "message rejected before processing"
	default:
		return ""
	}
}

// notify routes the terminal failure by severity: critical failures are
// surfaced for operators, user-facing ones go through the handler's
// terminal callback, routine ones are only logged.
func (h *Handler) notify(ctx context.Context, record *job.DeadLetterRecord, j *job.Job) {
	severity := job.SeverityRoutine
	if def, err := h.defs.Lookup(record.JobType); err == nil {
		severity = def.Severity
	}

	switch severity {
	case job.SeverityCritical:
		h.logger.Error("Critical job dead-lettered, operator attention required",
			slog.String("job_id", record.JobID),
			slog.String("job_type", record.JobType),
			slog.Int("retry_count", record.RetryCount),
			slog.String("final_error", record.FinalError))
	case job.SeverityUser:
		if j != nil {
			if handler, ok := h.handlers.Get(record.JobType); ok {
				// Best effort: a panicking or failing callback must not
				// block persistence or acknowledgement.
				func() {
					defer func() {
						if r := recover(); r != nil {
							h.logger.Error("Terminal failure callback panicked",
								slog.String("job_id", record.JobID),
								slog.Any("panic", r))
						}
					}()
					handler.HandleTerminalFailure(ctx, j, errors.New(record.FinalError))
				}()
			}
		}
		h.logger.Warn("Job dead-lettered",
			slog.String("job_id", record.JobID),
			slog.String("job_type", record.JobType),
			slog.String("final_error", record.FinalError))
	default:
		h.logger.Info("Job dead-lettered",
			slog.String("job_id", record.JobID),
			slog.String("job_type", record.JobType),
			slog.String("final_error", record.FinalError))
	}
}
