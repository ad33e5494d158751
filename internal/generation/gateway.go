package generation

import (
	"context"
	"errors"
	"fmt"

	"studio/internal/domain"
)

// JobService is the remote generation service as seen by the core.
type JobService interface {
	CreateJob(ctx context.Context, in domain.InputRefs) (domain.GenerationJob, error)
	JobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error)
}

// QuotaService returns the authoritative quota snapshot.
type QuotaService interface {
	FetchQuota(ctx context.Context) (domain.QuotaState, error)
}

// Gateway issues create-job requests and turns every failure into a
// *domain.SubmissionError.
type Gateway struct {
	svc JobService
}

// NewGateway wires a gateway on top of svc.
func NewGateway(svc JobService) *Gateway {
	return &Gateway{svc: svc}
}

// Submit calls the create endpoint once and returns a queued or processing
// job with no attempts recorded.
func (g *Gateway) Submit(ctx context.Context, in domain.InputRefs) (domain.GenerationJob, error) {
	if g == nil || g.svc == nil {
		return domain.GenerationJob{}, &domain.SubmissionError{Reason: SubmissionReasonFor(nil), Err: errors.New("gateway not configured")}
	}
	if err := in.Validate(); err != nil {
		return domain.GenerationJob{}, &domain.SubmissionError{Reason: domain.SubmissionReasonValidation, Err: err}
	}
	job, err := g.svc.CreateJob(ctx, in)
	if err != nil {
		return domain.GenerationJob{}, &domain.SubmissionError{Reason: SubmissionReasonFor(err), Err: err}
	}
	if job.ID == "" {
		return domain.GenerationJob{}, &domain.SubmissionError{Reason: domain.SubmissionReasonServer, Err: errors.New("create job response has no job id")}
	}
	if !job.Status.Pending() {
		return domain.GenerationJob{}, &domain.SubmissionError{
			Reason: domain.SubmissionReasonServer,
			Err:    fmt.Errorf("create job returned status %q", job.Status),
		}
	}
	if job.Kind == "" {
		job.Kind = in.Kind
	}
	job.Attempts = 0
	job.Result = nil
	job.Error = nil
	return job, nil
}

// SubmissionReasonFor classifies a create-job failure.
func SubmissionReasonFor(err error) domain.SubmissionReason {
	var netErr *domain.NetworkError
	switch {
	case err == nil:
		return domain.SubmissionReasonServer
	case errors.Is(err, domain.ErrQuotaExceeded):
		return domain.SubmissionReasonQuota
	case errors.Is(err, domain.ErrInvalidInput):
		return domain.SubmissionReasonValidation
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.SubmissionReasonNetwork
	default:
		return domain.SubmissionReasonServer
	}
}
