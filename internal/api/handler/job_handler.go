package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/htquang/jobcore/internal/api/dto"
	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/submit"
)

// SubmitJob handles POST /api/v1/jobs
// Validates the submission and enqueues it for asynchronous processing
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobID, err := h.submitter.Submit(c.Request.Context(), req.JobType, req.Payload, submit.Options{
		Priority:      req.Priority,
		Owner:         job.Owner{TenantID: req.TenantID, UserID: req.UserID},
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, job.ErrUnknownJobType):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Unknown job type: " + req.JobType,
			})
		case errors.Is(err, job.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
		case errors.Is(err, job.ErrBrokerUnavailable):
			h.logger.Error("Broker rejected submission",
				slog.String("job_type", req.JobType),
				slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Job queue is temporarily unavailable",
			})
		default:
			h.logger.Error("Failed to submit job",
				slog.String("job_type", req.JobType),
				slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit job",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  jobID,
		Status: job.StatusQueued,
	})
}

// ListDeadLetters handles GET /api/v1/jobs/dead-letters
// Returns the most recent terminal failures, newest first
func (h *JobHandler) ListDeadLetters(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	records, err := h.deadLetters.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list dead letters", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list dead letters",
		})
		return
	}

	resp := dto.ListDeadLettersResponse{
		DeadLetters: make([]dto.DeadLetterResponse, 0, len(records)),
		Count:       len(records),
	}
	for _, r := range records {
		var payload json.RawMessage
		if json.Valid(r.Payload) {
			payload = json.RawMessage(r.Payload)
		}
		resp.DeadLetters = append(resp.DeadLetters, dto.DeadLetterResponse{
			JobID:      r.JobID,
			JobType:    r.JobType,
			Payload:    payload,
			FinalError: r.FinalError,
			RetryCount: r.RetryCount,
			CreatedAt:  r.CreatedAt,
			FailedAt:   r.FailedAt,
			TenantID:   r.OwnerTenantID,
			UserID:     r.OwnerUserID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// GetStats handles GET /api/v1/jobs/stats
// Serves queue depths, outcome counters, and dead letter totals
func (h *JobHandler) GetStats(c *gin.Context) {
	counts, err := h.deadLetters.CountsByType(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count dead letters", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to collect stats",
		})
		return
	}

	snap := h.monitor.Snapshot()
	c.JSON(http.StatusOK, dto.StatsResponse{
		QueueDepths:       snap.QueueDepths,
		Outcomes:          snap.Outcomes,
		DeadLettersByType: counts,
		CapturedAt:        snap.CapturedAt,
	})
}
