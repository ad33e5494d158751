package domain

import (
	"errors"
	"testing"
	"time"
)

func TestObserveTerminalIsImmutable(t *testing.T) {
	done := GenerationJob{ID: "job-1", Status: JobStatusSucceeded, Attempts: 3, Result: &JobResult{Artifact: ArtifactRef{URL: "https://cdn.example.com/out.png"}, Origin: OriginRemote}}
	next, changed := done.Observe(GenerationJob{Status: JobStatusFailed, Error: &JobError{Message: "late"}}, time.Now())
	if changed {
		t.Fatalf("terminal job reported a change")
	}
	if next.Status != JobStatusSucceeded || next.Attempts != 3 || next.Error != nil {
		t.Fatalf("terminal job mutated: %+v", next)
	}
}

func TestObserveUpdatedAtOnlyOnStatusChange(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := GenerationJob{ID: "job-1", Status: JobStatusQueued, CreatedAt: created, UpdatedAt: created}

	same, changed := job.Observe(GenerationJob{Status: JobStatusQueued}, created.Add(time.Second))
	if changed {
		t.Fatalf("unchanged status reported as change")
	}
	if !same.UpdatedAt.Equal(created) {
		t.Fatalf("UpdatedAt = %v, want %v", same.UpdatedAt, created)
	}
	if same.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", same.Attempts)
	}

	now := created.Add(2 * time.Second)
	moved, changed := same.Observe(GenerationJob{Status: JobStatusProcessing}, now)
	if !changed {
		t.Fatalf("status change not reported")
	}
	if !moved.UpdatedAt.Equal(now) {
		t.Fatalf("UpdatedAt = %v, want %v", moved.UpdatedAt, now)
	}
	if moved.Attempts != 2 {
		t.Fatalf("Attempts = %d, want 2", moved.Attempts)
	}
}

func TestObserveKeepsPayloadsForMatchingStatus(t *testing.T) {
	job := GenerationJob{ID: "job-1", Status: JobStatusProcessing}

	ok, _ := job.Observe(GenerationJob{Status: JobStatusSucceeded, Result: &JobResult{Artifact: ArtifactRef{ID: "a", URL: "https://x/y.png"}}, Error: &JobError{Message: "noise"}}, time.Now())
	if ok.Result == nil || ok.Result.Origin != OriginRemote {
		t.Fatalf("result = %+v, want remote result", ok.Result)
	}
	if ok.Error != nil {
		t.Fatalf("error must be empty for succeeded job")
	}

	failed, _ := job.Observe(GenerationJob{Status: JobStatusFailed, Result: &JobResult{}}, time.Now())
	if failed.Result != nil {
		t.Fatalf("result must be empty for failed job")
	}
	if failed.Error == nil {
		t.Fatalf("failed job must carry an error")
	}
}

func TestInputRefsValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      InputRefs
		wantErr bool
	}{
		{name: "ok", in: InputRefs{Kind: JobKindOutfit, Artifacts: []ArtifactRef{{URL: "https://x/model.png"}, {URL: "https://x/shirt.png"}}}},
		{name: "unknown kind", in: InputRefs{Kind: "video", Artifacts: []ArtifactRef{{URL: "https://x"}}}, wantErr: true},
		{name: "no artifacts", in: InputRefs{Kind: JobKindDesign}, wantErr: true},
		{name: "blank url", in: InputRefs{Kind: JobKindDesign, Artifacts: []ArtifactRef{{ID: "a"}}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("Validate() = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error: %v", err)
			}
		})
	}
}

func TestQuotaStateNormalize(t *testing.T) {
	q := QuotaState{MonthlyLimit: 10, UsedThisMonth: 12}.Normalize()
	if q.Remaining != 0 || q.HasQuota {
		t.Fatalf("over-used quota = %+v, want remaining 0 and no quota", q)
	}
	q = QuotaState{MonthlyLimit: 10, UsedThisMonth: 4}.Normalize()
	if q.Remaining != 6 || !q.HasQuota {
		t.Fatalf("quota = %+v, want remaining 6", q)
	}
}

func TestQuotaExhaustedErrorIs(t *testing.T) {
	var err error = &QuotaExhaustedError{Limit: 5, Used: 5}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("QuotaExhaustedError must match ErrQuotaExceeded")
	}
	wrapped := &SubmissionError{Reason: SubmissionReasonQuota, Err: &QuotaExhaustedError{ServerReported: true}}
	if !errors.Is(wrapped, ErrQuotaExceeded) {
		t.Fatalf("wrapped quota error must match ErrQuotaExceeded")
	}
}
