package job

import (
	"time"

	"github.com/google/uuid"
)

// Owner identifies the tenant and user a job was submitted for. It is
// used for rate limiting and for routing terminal failure notices.
type Owner struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// Job is a unit of deferred work. It is created exclusively by the
// submitter; RetryCount is mutated exclusively by the retry coordinator.
type Job struct {
	ID            string        `json:"job_id"`
	Type          string        `json:"job_type"`
	Payload       []byte        `json:"payload"`
	Priority      Priority      `json:"priority"`
	CreatedAt     time.Time     `json:"created_at"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	Timeout       time.Duration `json:"timeout"`
	Owner         Owner         `json:"owner"`
	CorrelationID string        `json:"correlation_id,omitempty"`
}

// New creates a Job from a definition, copying the retry and timeout
// policy so later registry changes are not retroactive.
func New(def *Definition, payload []byte, priority Priority, owner Owner, correlationID string) *Job {
	return &Job{
		ID:            uuid.New().String(),
		Type:          def.Type,
		Payload:       payload,
		Priority:      priority,
		CreatedAt:     time.Now().UTC(),
		RetryCount:    0,
		MaxRetries:    def.MaxRetries,
		Timeout:       def.Timeout,
		Owner:         owner,
		CorrelationID: correlationID,
	}
}

// RetriesExhausted reports whether the job has no retry budget left.
// A job that fails with RetryCount == MaxRetries is terminal.
func (j *Job) RetriesExhausted() bool {
	return j.RetryCount >= j.MaxRetries
}
