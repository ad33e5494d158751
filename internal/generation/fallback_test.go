package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"studio/internal/domain"
)

func TestSimulatorPassesPrimaryInputThrough(t *testing.T) {
	in := outfitInputs()
	job, err := NewSimulator(0).Simulate(context.Background(), in)
	if err != nil {
		t.Fatalf("Simulate error: %v", err)
	}
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", job.Status)
	}
	if !IsSimulatedID(job.ID) {
		t.Fatalf("id = %q, want simulated prefix", job.ID)
	}
	if !job.Simulated() {
		t.Fatalf("expected simulated origin, got %+v", job.Result)
	}
	if job.Result.Artifact != in.Primary() {
		t.Fatalf("artifact = %+v, want %+v", job.Result.Artifact, in.Primary())
	}
	if job.Kind != domain.JobKindOutfit {
		t.Fatalf("kind = %q, want outfit", job.Kind)
	}
}

func TestSimulatorPendingIsQueued(t *testing.T) {
	sim := NewSimulator(3 * time.Second)
	pending := sim.Pending(outfitInputs())
	if pending.Status != domain.JobStatusQueued || pending.Result != nil {
		t.Fatalf("pending = %+v, want queued without result", pending)
	}
	if pending.EstimatedTimeSeconds != 3 {
		t.Fatalf("estimate = %d, want 3", pending.EstimatedTimeSeconds)
	}
	if IsSimulatedID("job-123") {
		t.Fatalf("remote id reported as simulated")
	}
}

func TestSimulatorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSimulator(time.Hour).Simulate(ctx, outfitInputs())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
