package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
)

type pollRecorder struct {
	mu      sync.Mutex
	updates []PollUpdate
}

func (r *pollRecorder) record(u PollUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *pollRecorder) all() []PollUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PollUpdate(nil), r.updates...)
}

func waitSession(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish", sess.JobID)
	}
}

func fastPolicy(maxAttempts int) Policy {
	return Policy{WarmUp: 0, Interval: time.Millisecond, MaxAttempts: maxAttempts}
}

func TestSchedulerStopsAtMaxAttempts(t *testing.T) {
	svc := &stubJobService{}
	rec := &pollRecorder{}
	sess := NewScheduler(svc, nil).Start(context.Background(), domain.GenerationJob{ID: "job-1", Status: domain.JobStatusQueued}, fastPolicy(3), rec.record)
	waitSession(t, sess)

	if calls := svc.statusCallsFor("job-1"); calls != 3 {
		t.Fatalf("status calls = %d, want 3", calls)
	}
	updates := rec.all()
	if len(updates) != 4 {
		t.Fatalf("updates = %d, want 3 polls plus timeout", len(updates))
	}
	last := updates[len(updates)-1]
	var timeout *domain.TimeoutError
	if !errors.As(last.Err, &timeout) {
		t.Fatalf("last err = %v, want *TimeoutError", last.Err)
	}
	if timeout.Attempts != 3 || timeout.JobID != "job-1" {
		t.Fatalf("timeout = %+v, want job-1 after 3 attempts", timeout)
	}
	if sess.AttemptCount() != 3 {
		t.Fatalf("attempt count = %d, want 3", sess.AttemptCount())
	}
}

func TestSchedulerDeliversEachPollUntilTerminal(t *testing.T) {
	svc := &stubJobService{statusFn: func(jobID string, call int) (domain.GenerationJob, error) {
		switch call {
		case 1:
			return domain.GenerationJob{ID: jobID, Status: domain.JobStatusQueued}, nil
		case 2:
			return domain.GenerationJob{ID: jobID, Status: domain.JobStatusProcessing}, nil
		default:
			return succeededJob(jobID), nil
		}
	}}
	rec := &pollRecorder{}
	sess := NewScheduler(svc, nil).Start(context.Background(), domain.GenerationJob{ID: "job-1", Status: domain.JobStatusQueued}, fastPolicy(10), rec.record)
	waitSession(t, sess)

	updates := rec.all()
	if len(updates) != 3 {
		t.Fatalf("updates = %d, want 3", len(updates))
	}
	wantStatus := []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusSucceeded}
	wantChanged := []bool{false, true, true}
	for i, u := range updates {
		if u.Job.Status != wantStatus[i] || u.Changed != wantChanged[i] {
			t.Fatalf("update %d = %s changed=%v, want %s changed=%v", i, u.Job.Status, u.Changed, wantStatus[i], wantChanged[i])
		}
		if u.Job.Attempts != i+1 {
			t.Fatalf("update %d attempts = %d, want %d", i, u.Job.Attempts, i+1)
		}
	}
	final := updates[2]
	if !final.Terminal() || final.Job.Result == nil || final.Job.Result.Origin != domain.OriginRemote {
		t.Fatalf("final = %+v, want terminal remote result", final.Job)
	}
	if calls := svc.statusCallsFor("job-1"); calls != 3 {
		t.Fatalf("status calls = %d, want no request after terminal", calls)
	}
}

func TestSchedulerCountsTransportFailures(t *testing.T) {
	svc := &stubJobService{statusFn: func(jobID string, call int) (domain.GenerationJob, error) {
		if call < 3 {
			return domain.GenerationJob{}, &domain.NetworkError{Op: "job status", Err: errors.New("reset by peer")}
		}
		return succeededJob(jobID), nil
	}}
	rec := &pollRecorder{}
	sess := NewScheduler(svc, nil).Start(context.Background(), domain.GenerationJob{ID: "job-1", Status: domain.JobStatusQueued}, fastPolicy(5), rec.record)
	waitSession(t, sess)

	updates := rec.all()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want only the successful poll", len(updates))
	}
	if updates[0].Job.Attempts != 3 {
		t.Fatalf("attempts = %d, want failed polls counted", updates[0].Job.Attempts)
	}
}

func TestSchedulerTimesOutWhenEveryPollFails(t *testing.T) {
	svc := &stubJobService{statusFn: func(string, int) (domain.GenerationJob, error) {
		return domain.GenerationJob{}, errors.New("unreachable")
	}}
	rec := &pollRecorder{}
	sess := NewScheduler(svc, nil).Start(context.Background(), domain.GenerationJob{ID: "job-1", Status: domain.JobStatusProcessing}, fastPolicy(2), rec.record)
	waitSession(t, sess)

	updates := rec.all()
	if len(updates) != 1 {
		t.Fatalf("updates = %d, want timeout only", len(updates))
	}
	if updates[0].Err == nil || updates[0].Job.Status != domain.JobStatusProcessing {
		t.Fatalf("update = %+v, want timeout carrying last known status", updates[0])
	}
	if calls := svc.statusCallsFor("job-1"); calls != 2 {
		t.Fatalf("status calls = %d, want 2", calls)
	}
}

func TestSchedulerCancelDropsLateResponse(t *testing.T) {
	gate := make(chan struct{})
	svc := &stubJobService{
		statusGate: gate,
		statusFn: func(jobID string, call int) (domain.GenerationJob, error) {
			return succeededJob(jobID), nil
		},
	}
	rec := &pollRecorder{}
	sess := NewScheduler(svc, nil).Start(context.Background(), domain.GenerationJob{ID: "job-1", Status: domain.JobStatusQueued}, fastPolicy(5), rec.record)
	waitFor(t, "first request", func() bool { return svc.statusCallsFor("job-1") == 1 })

	sess.Cancel()
	sess.Cancel()
	close(gate)
	waitSession(t, sess)

	if got := rec.all(); len(got) != 0 {
		t.Fatalf("updates after cancel = %d, want 0", len(got))
	}
	if !sess.Cancelled() {
		t.Fatalf("expected session to report cancelled")
	}
}

func TestSchedulerHonoursWarmUpAndInterval(t *testing.T) {
	svc := &stubJobService{}
	sc := NewScheduler(svc, nil)
	var (
		mu    sync.Mutex
		slept []time.Duration
	)
	sc.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	policy := Policy{WarmUp: 2 * time.Second, Interval: 3 * time.Second, MaxAttempts: 3}
	sess := sc.Start(context.Background(), domain.GenerationJob{ID: "job-1", Status: domain.JobStatusQueued}, policy, nil)
	waitSession(t, sess)

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{2 * time.Second, 3 * time.Second, 3 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("sleeps = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", slept, want)
		}
	}
}

func TestPolicyBudget(t *testing.T) {
	outfit := DefaultPolicies().For(domain.JobKindOutfit)
	if got := outfit.Budget(); got != 90*time.Second {
		t.Fatalf("outfit budget = %s, want 90s", got)
	}
	if err := (Policy{Interval: time.Second}).Validate(); err == nil {
		t.Fatalf("expected zero max attempts to be rejected")
	}
	if got := (Policies{}).For(domain.JobKindOutfit).MaxAttempts; got != defaultDesignMaxAttempts {
		t.Fatalf("fallback max attempts = %d, want %d", got, defaultDesignMaxAttempts)
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	cfg := &infra.Config{
		OutfitPolling: infra.PollConfig{WarmUp: time.Second, Interval: 3 * time.Second, MaxAttempts: 20},
		DesignPolling: infra.PollConfig{Interval: time.Second, MaxAttempts: 5},
	}
	policies := PoliciesFromConfig(cfg)
	if got := policies.For(domain.JobKindOutfit); got != (Policy{WarmUp: time.Second, Interval: 3 * time.Second, MaxAttempts: 20}) {
		t.Fatalf("outfit policy = %+v", got)
	}
	if got := policies.For(domain.JobKindDesign).MaxAttempts; got != 5 {
		t.Fatalf("design max attempts = %d, want 5", got)
	}
	if got := PoliciesFromConfig(nil).For(domain.JobKindOutfit).MaxAttempts; got != defaultOutfitMaxAttempts {
		t.Fatalf("nil config max attempts = %d, want %d", got, defaultOutfitMaxAttempts)
	}
}
