package generation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio/internal/domain"
)

const simulatedIDPrefix = "sim-"

// Simulator produces a placeholder terminal result when the generation
// service cannot accept a job. The result passes the primary input through
// unchanged and is tagged OriginSimulated; it never consumes quota.
type Simulator struct {
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewSimulator creates a simulator that answers after delay.
func NewSimulator(delay time.Duration) *Simulator {
	if delay < 0 {
		delay = 0
	}
	return &Simulator{delay: delay, sleep: sleepContext, now: time.Now}
}

// Delay returns the configured answer delay.
func (s *Simulator) Delay() time.Duration {
	return s.delay
}

// Pending returns the queued placeholder published while the simulated
// result is being prepared.
func (s *Simulator) Pending(in domain.InputRefs) domain.GenerationJob {
	now := s.now()
	return domain.GenerationJob{
		ID:                   simulatedIDPrefix + uuid.NewString(),
		Kind:                 in.Kind,
		Status:               domain.JobStatusQueued,
		CreatedAt:            now,
		UpdatedAt:            now,
		EstimatedTimeSeconds: int(s.delay.Round(time.Second) / time.Second),
	}
}

// Complete waits for the delay and returns pending as a succeeded job.
func (s *Simulator) Complete(ctx context.Context, pending domain.GenerationJob, in domain.InputRefs) (domain.GenerationJob, error) {
	if err := s.sleep(ctx, s.delay); err != nil {
		return domain.GenerationJob{}, err
	}
	job := pending
	job.Status = domain.JobStatusSucceeded
	job.UpdatedAt = s.now()
	job.Error = nil
	job.Result = &domain.JobResult{Artifact: in.Primary(), Origin: domain.OriginSimulated}
	return job, nil
}

// Simulate is Pending followed by Complete.
func (s *Simulator) Simulate(ctx context.Context, in domain.InputRefs) (domain.GenerationJob, error) {
	return s.Complete(ctx, s.Pending(in), in)
}

// IsSimulatedID reports whether jobID was issued by a Simulator.
func IsSimulatedID(jobID string) bool {
	return strings.HasPrefix(jobID, simulatedIDPrefix)
}
