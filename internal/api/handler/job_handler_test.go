package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htquang/jobcore/internal/job"
	"github.com/htquang/jobcore/internal/monitor"
	"github.com/htquang/jobcore/internal/submit"
)

type fakeSubmitter struct {
	jobID   string
	err     error
	gotType string
	gotOpts submit.Options
}

func (f *fakeSubmitter) Submit(_ context.Context, jobType string, _ []byte, opts submit.Options) (string, error) {
	f.gotType = jobType
	f.gotOpts = opts
	if f.err != nil {
		return "", f.err
	}
	return f.jobID, nil
}

type fakeDeadLetterReader struct {
	records  []job.DeadLetterRecord
	counts   map[string]int
	err      error
	gotLimit int
}

func (f *fakeDeadLetterReader) Recent(_ context.Context, limit int) ([]job.DeadLetterRecord, error) {
	f.gotLimit = limit
	return f.records, f.err
}

func (f *fakeDeadLetterReader) CountsByType(_ context.Context) (map[string]int, error) {
	return f.counts, f.err
}

func newTestRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewJobHandler(deps)
	r.POST("/api/v1/jobs", h.SubmitJob)
	r.GET("/api/v1/jobs/dead-letters", h.ListDeadLetters)
	r.GET("/api/v1/jobs/stats", h.GetStats)
	return r
}

func testDeps(submitter Submitter, reader DeadLetterReader) *Dependencies {
	return &Dependencies{
		Logger:      slog.New(slog.DiscardHandler),
		Submitter:   submitter,
		DeadLetters: reader,
		Monitor:     monitor.New(),
	}
}

func TestSubmitJobAccepted(t *testing.T) {
	submitter := &fakeSubmitter{jobID: "7b14f1ab-06a8-4b3c-9f2e-1a6d6f3f1a00"}
	r := newTestRouter(testDeps(submitter, &fakeDeadLetterReader{}))

	body := `{"job_type":"recognition","payload":{"audio_url":"s3://in/a.wav"},"priority":"high","tenant_id":"tenant-a","user_id":"u-1"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), submitter.jobID)
	assert.Contains(t, w.Body.String(), `"status":"QUEUED"`)
	assert.Equal(t, "recognition", submitter.gotType)
	assert.Equal(t, "high", submitter.gotOpts.Priority)
	assert.Equal(t, "tenant-a", submitter.gotOpts.Owner.TenantID)
}

func TestSubmitJobErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "unknown job type",
			err:        fmt.Errorf("%w: %q", job.ErrUnknownJobType, "mystery"),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "validation failure",
			err:        fmt.Errorf("%w: payload is required", job.ErrValidation),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "broker unavailable",
			err:        fmt.Errorf("%w: publish not confirmed", job.ErrBrokerUnavailable),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(testDeps(&fakeSubmitter{err: tt.err}, &fakeDeadLetterReader{}))

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs",
				strings.NewReader(`{"job_type":"mystery","payload":{}}`))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSubmitJobRejectsMissingJobType(t *testing.T) {
	r := newTestRouter(testDeps(&fakeSubmitter{}, &fakeDeadLetterReader{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"payload":{}}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDeadLetters(t *testing.T) {
	reader := &fakeDeadLetterReader{
		records: []job.DeadLetterRecord{
			{
				JobID:      "job-1",
				JobType:    "synthesis",
				Payload:    []byte(`{"text":"hi"}`),
				FinalError: "voice model missing",
				RetryCount: 3,
				FailedAt:   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
			},
		},
	}
	r := newTestRouter(testDeps(&fakeSubmitter{}, reader))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/dead-letters?limit=10", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, reader.gotLimit)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), "voice model missing")
}

func TestListDeadLettersRejectsBadLimit(t *testing.T) {
	r := newTestRouter(testDeps(&fakeSubmitter{}, &fakeDeadLetterReader{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/dead-letters?limit=abc", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetStats(t *testing.T) {
	reader := &fakeDeadLetterReader{counts: map[string]int{"synthesis": 2}}
	deps := testDeps(&fakeSubmitter{}, reader)
	deps.Monitor.SetQueueDepth("jobs.high", 7)
	r := newTestRouter(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/stats", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"jobs.high":7`)
	assert.Contains(t, w.Body.String(), `"synthesis":2`)
}
