// Package task defines the contract between the worker pool and the
// processing logic supplied by collaborators (recognition, synthesis,
// bulk imports, notifications). Handlers must be idempotent: duplicate
// delivery after a worker crash is possible and must be tolerated.
package task

import (
	"context"
	"time"

	"github.com/htquang/jobcore/internal/job"
)

// Disposition is the outcome class a handler reports for one attempt.
type Disposition int

const (
	// Succeeded means the attempt completed; the message is acknowledged.
	Succeeded Disposition = iota
	// RetryRequested means the handler judged the failure transient and
	// asks for a re-enqueue, optionally suggesting a delay.
	RetryRequested
	// Failed means the attempt errored; retry policy decides what happens.
	Failed
)

// Result describes the outcome of a single processing attempt.
type Result struct {
	Disposition Disposition
	// Output is opaque handler output on success.
	Output []byte
	// Err is the failure cause for Failed results.
	Err error
	// Reason documents why a retry was requested.
	Reason string
	// Delay optionally overrides the backoff strategy for a requested
	// retry. Zero means use the type's configured backoff.
	Delay time.Duration
}

// Success builds a successful result.
func Success(output []byte) Result {
	return Result{Disposition: Succeeded, Output: output}
}

// Retry builds a retry-requested result.
func Retry(reason string, delay time.Duration) Result {
	return Result{Disposition: RetryRequested, Reason: reason, Delay: delay}
}

// Fail builds a failed result.
func Fail(err error) Result {
	return Result{Disposition: Failed, Err: err}
}

// Handler is the processing logic for one job type.
type Handler interface {
	// Process runs one attempt. The context carries the attempt deadline;
	// the handler must stop promptly when it elapses.
	Process(ctx context.Context, j *job.Job) Result

	// HandleTerminalFailure is a best-effort notification hook invoked
	// exactly once when a job of this type is dead-lettered.
	HandleTerminalFailure(ctx context.Context, j *job.Job, jobErr error)
}
