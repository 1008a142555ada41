package job

import (
	"encoding/json"
	"fmt"
)

// Header keys carried on the broker envelope alongside the serialized
// job. The retry count is mirrored into headers so operators can see it
// in broker tooling without decoding the body.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderJobType       = "x-job-type"
	HeaderCorrelationID = "x-correlation-id"
	HeaderFinalError    = "x-final-error"
	HeaderFailedAt      = "x-failed-at"
)

// Encode serializes a job into the message body published to the broker.
func Encode(j *Job) ([]byte, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job %s: %w", j.ID, err)
	}
	return body, nil
}

// Decode parses a message body back into a job. A failure here means the
// message is malformed and must be dead-lettered, never retried.
func Decode(body []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if j.ID == "" || j.Type == "" {
		return nil, fmt.Errorf("%w: missing job id or type", ErrInvalidPayload)
	}
	return &j, nil
}
