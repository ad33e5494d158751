package domain

import (
	"strings"
	"time"
)

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindOutfit JobKind = "outfit"
	JobKindDesign JobKind = "design"
)

// ParseJobKind sanitizes free-form input into a supported kind.
func ParseJobKind(kind string) (JobKind, bool) {
	switch JobKind(strings.ToLower(strings.TrimSpace(kind))) {
	case JobKindOutfit:
		return JobKindOutfit, true
	case JobKindDesign:
		return JobKindDesign, true
	default:
		return "", false
	}
}

// JobStatus enumerates job lifecycle states reported by the generation service.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions may happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Pending reports whether the job is still waiting on the service.
func (s JobStatus) Pending() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Origin tells callers whether a result came from the service or from the
// local degraded path.
type Origin string

const (
	OriginRemote    Origin = "remote"
	OriginSimulated Origin = "simulated"
)

// JobResult references the artifact produced by a succeeded job.
type JobResult struct {
	Artifact ArtifactRef `json:"artifact"`
	Origin   Origin      `json:"origin"`
}

// JobError is the failure payload of a failed job.
type JobError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// GenerationJob tracks one asynchronous unit of generation work.
type GenerationJob struct {
	ID                    string     `json:"job_id"`
	Kind                  JobKind    `json:"kind"`
	Status                JobStatus  `json:"status"`
	Attempts              int        `json:"attempts"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	EstimatedTimeSeconds  int        `json:"estimated_time_seconds,omitempty"`
	QueuePosition         *int       `json:"queue_position,omitempty"`
	ProcessingTimeSeconds *float64   `json:"processing_time_seconds,omitempty"`
	QueueTimeSeconds      *float64   `json:"queue_time_seconds,omitempty"`
	Result                *JobResult `json:"result,omitempty"`
	Error                 *JobError  `json:"error,omitempty"`
}

// Simulated reports whether the job was synthesized locally.
func (j GenerationJob) Simulated() bool {
	return j.Result != nil && j.Result.Origin == OriginSimulated
}

// Observe folds a freshly polled snapshot into the job and returns the new
// value together with whether the status changed. A terminal job never
// changes again; UpdatedAt only moves when the status does.
func (j GenerationJob) Observe(next GenerationJob, now time.Time) (GenerationJob, bool) {
	if j.Status.Terminal() {
		return j, false
	}
	out := j
	out.Attempts = j.Attempts + 1
	if next.EstimatedTimeSeconds > 0 {
		out.EstimatedTimeSeconds = next.EstimatedTimeSeconds
	}
	out.QueuePosition = next.QueuePosition
	if next.ProcessingTimeSeconds != nil {
		out.ProcessingTimeSeconds = next.ProcessingTimeSeconds
	}
	if next.QueueTimeSeconds != nil {
		out.QueueTimeSeconds = next.QueueTimeSeconds
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = next.CreatedAt
	}
	changed := next.Status != "" && next.Status != j.Status
	if changed {
		out.Status = next.Status
		out.UpdatedAt = now
		if !next.UpdatedAt.IsZero() {
			out.UpdatedAt = next.UpdatedAt
		}
	}
	out.Result = nil
	out.Error = nil
	switch out.Status {
	case JobStatusSucceeded:
		if next.Result != nil {
			result := *next.Result
			if result.Origin == "" {
				result.Origin = OriginRemote
			}
			out.Result = &result
		}
	case JobStatusFailed:
		jobErr := JobError{}
		if next.Error != nil {
			jobErr = *next.Error
		}
		out.Error = &jobErr
	}
	return out, changed
}
