package handler

import (
	"context"
	"log/slog"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/submit"
)

// Submitter validates and enqueues job submissions.
type Submitter interface {
	Submit(ctx context.Context, jobType string, payload []byte, opts submit.Options) (string, error)
}

// DeadLetterReader serves persisted terminal failures.
type DeadLetterReader interface {
	Recent(ctx context.Context, limit int) ([]job.DeadLetterRecord, error)
	CountsByType(ctx context.Context) (map[string]int, error)
}

// HealthChecker reports readiness of a backing service.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BrokerStatus reports broker connectivity.
type BrokerStatus interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Submitter   Submitter
	DeadLetters DeadLetterReader
	Monitor     *monitor.Monitor
	DB          HealthChecker
	Broker      BrokerStatus
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	submitter   Submitter
	deadLetters DeadLetterReader
	monitor     *monitor.Monitor
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		submitter:   deps.Submitter,
		deadLetters: deps.DeadLetters,
		monitor:     deps.Monitor,
	}
}
