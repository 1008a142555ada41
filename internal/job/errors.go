package job

import "errors"

var (
	// ErrUnknownJobType is returned when a job type is not present in
	// the registry.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrValidation is returned for malformed submissions (bad priority,
	// missing owner context for a rate-limited type, empty payload).
	ErrValidation = errors.New("validation error")

	// ErrBrokerUnavailable is returned when a publish cannot be confirmed
	// by the broker. The caller decides whether to retry submission.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrNoHandler is raised when a delivery names a job type with no
	// registered task handler. This is a configuration error and is
	// dead-lettered without consuming retries.
	ErrNoHandler = errors.New("no handler registered for job type")

	// ErrInvalidPayload marks a payload the handler could not interpret.
	// Invalid payloads are never retried.
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrTimeout marks an attempt cancelled by its deadline. Timeouts
	// are treated as ordinary failures for retry purposes.
	ErrTimeout = errors.New("job attempt timed out")
)

// RetryableError wraps transient errors that should trigger a retry
// with backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err should consume a retry attempt rather
// than dead-letter immediately. Validation and configuration errors are
// permanent; everything else (including timeouts) is presumed transient.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNoHandler) {
		return false
	}
	return true
}
