package dto

import (
	"encoding/json"
	"time"
)

// SubmitJobRequest is the request body for POST /api/v1/jobs
type SubmitJobRequest struct {
	JobType       string          `json:"job_type" binding:"required"`
	Payload       json.RawMessage `json:"payload"`
	Priority      string          `json:"priority"`
	TenantID      string          `json:"tenant_id"`
	UserID        string          `json:"user_id"`
	CorrelationID string          `json:"correlation_id"`
}

// SubmitJobResponse is returned when a job is accepted for processing
type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// DeadLetterResponse is one terminal failure record
type DeadLetterResponse struct {
	JobID      string          `json:"job_id"`
	JobType    string          `json:"job_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FinalError string          `json:"final_error"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
	FailedAt   time.Time       `json:"failed_at"`
	TenantID   string          `json:"tenant_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
}

// ListDeadLettersResponse wraps the dead letter listing
type ListDeadLettersResponse struct {
	DeadLetters []DeadLetterResponse `json:"dead_letters"`
	Count       int                  `json:"count"`
}

// StatsResponse is the monitoring snapshot served by GET /api/v1/stats
type StatsResponse struct {
	QueueDepths       map[string]int            `json:"queue_depths"`
	Outcomes          map[string]map[string]int `json:"outcomes"`
	DeadLettersByType map[string]int            `json:"dead_letters_by_type"`
	CapturedAt        time.Time                 `json:"captured_at"`
}
