package generation

import (
	"context"
	"sync"
	"testing"
	"time"

	"studio/internal/domain"
)

type stubJobService struct {
	mu sync.Mutex

	created     []domain.GenerationJob
	createErr   error
	createGate  chan struct{}
	createCalls int
	lastInputs  domain.InputRefs

	statusFn    func(jobID string, call int) (domain.GenerationJob, error)
	statusGate  chan struct{}
	statusCalls map[string]int

	quota      domain.QuotaState
	quotaErr   error
	quotaGate  chan struct{}
	quotaCalls int
}

func (s *stubJobService) CreateJob(ctx context.Context, in domain.InputRefs) (domain.GenerationJob, error) {
	s.mu.Lock()
	s.createCalls++
	call := s.createCalls
	s.lastInputs = in
	gate := s.createGate
	err := s.createErr
	var job domain.GenerationJob
	if len(s.created) > 0 {
		idx := call - 1
		if idx >= len(s.created) {
			idx = len(s.created) - 1
		}
		job = s.created[idx]
	}
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return domain.GenerationJob{}, err
	}
	return job, nil
}

func (s *stubJobService) JobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	s.mu.Lock()
	if s.statusCalls == nil {
		s.statusCalls = make(map[string]int)
	}
	s.statusCalls[jobID]++
	call := s.statusCalls[jobID]
	fn := s.statusFn
	gate := s.statusGate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fn == nil {
		return domain.GenerationJob{ID: jobID, Status: domain.JobStatusQueued}, nil
	}
	return fn(jobID, call)
}

func (s *stubJobService) FetchQuota(ctx context.Context) (domain.QuotaState, error) {
	s.mu.Lock()
	s.quotaCalls++
	gate := s.quotaGate
	state, err := s.quota, s.quotaErr
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return state, err
}

func (s *stubJobService) setStatusFn(fn func(jobID string, call int) (domain.GenerationJob, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFn = fn
}

func (s *stubJobService) statusCallsFor(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusCalls[jobID]
}

func (s *stubJobService) createCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *stubJobService) quotaCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotaCalls
}

func outfitInputs() domain.InputRefs {
	return domain.InputRefs{
		Kind: domain.JobKindOutfit,
		Artifacts: []domain.ArtifactRef{
			{ID: "model-1", URL: "https://cdn.example.com/model.png", Width: 768, Height: 1024},
			{ID: "garment-1", URL: "https://cdn.example.com/shirt.png"},
		},
	}
}

func succeededJob(jobID string) domain.GenerationJob {
	return domain.GenerationJob{
		ID:     jobID,
		Status: domain.JobStatusSucceeded,
		Result: &domain.JobResult{Artifact: domain.ArtifactRef{ID: "out-" + jobID, URL: "https://cdn.example.com/out.png"}},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
