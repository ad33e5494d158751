package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidInput       = errors.New("invalid input")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrGenerationInFlight = errors.New("generation already in flight")
)

// QuotaExhaustedError reports that no generation allowance is left, either
// according to the local ledger or to the generation service.
type QuotaExhaustedError struct {
	Limit          int
	Used           int
	ServerReported bool
}

func (e *QuotaExhaustedError) Error() string {
	if e.ServerReported {
		return "quota exceeded (reported by generation service)"
	}
	return fmt.Sprintf("quota exceeded: %d of %d used", e.Used, e.Limit)
}

func (e *QuotaExhaustedError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// SubmissionReason classifies why a create-job request was rejected.
type SubmissionReason string

const (
	SubmissionReasonQuota      SubmissionReason = "quota"
	SubmissionReasonNetwork    SubmissionReason = "network"
	SubmissionReasonValidation SubmissionReason = "validation"
	SubmissionReasonServer     SubmissionReason = "server"
)

// SubmissionError means the request to create a job failed. It is distinct
// from a job that completed with status failed.
type SubmissionError struct {
	Reason SubmissionReason
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("submission failed (%s)", e.Reason)
	}
	return fmt.Sprintf("submission failed (%s): %v", e.Reason, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// JobFailedError means the remote job finished unsuccessfully. Message holds
// the normalized text, Raw the server-supplied one.
type JobFailedError struct {
	JobID   string
	Code    string
	Message string
	Raw     string
}

func (e *JobFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("job %s failed: %s (%s)", e.JobID, e.Message, e.Code)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// TimeoutError means the attempt budget ran out before the job reached a
// terminal status. The job may still finish on the service side.
type TimeoutError struct {
	JobID    string
	Attempts int
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s: no terminal status after %d attempts (%s)", e.JobID, e.Attempts, e.Waited.Round(time.Millisecond))
}

// NetworkError wraps a transient transport failure while polling.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
