package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/htquang/jobcore/internal/job"
)

// SimulatedHandler stands in for real processing logic until executors
// are plugged in. It sleeps for a configured duration, honoring the
// attempt deadline.
type SimulatedHandler struct {
	// WorkDuration is how long one attempt pretends to work.
	WorkDuration time.Duration
	Logger       *slog.Logger
}

// Process simulates job execution with a delay.
func (h *SimulatedHandler) Process(ctx context.Context, j *job.Job) Result {
	duration := h.WorkDuration
	if duration <= 0 {
		duration = 2 * time.Second
	}

	select {
	case <-time.After(duration):
		return Success([]byte(fmt.Sprintf(`{"status":"success","message":"job %s of type %s completed"}`, j.ID, j.Type)))
	case <-ctx.Done():
		return Fail(fmt.Errorf("job execution canceled: %w", ctx.Err()))
	}
}

// HandleTerminalFailure logs the terminal failure.
func (h *SimulatedHandler) HandleTerminalFailure(_ context.Context, j *job.Job, jobErr error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn("Job failed terminally",
		slog.String("job_id", j.ID),
		slog.String("job_type", j.Type),
		slog.String("error", jobErr.Error()),
	)
}
