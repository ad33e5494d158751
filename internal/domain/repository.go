package domain

import (
	"context"
	"time"
)

// HistoryStatus is the persisted outcome of a generation.
type HistoryStatus string

const (
	HistorySucceeded HistoryStatus = "succeeded"
	HistoryFailed    HistoryStatus = "failed"
	HistoryTimedOut  HistoryStatus = "timed_out"
	HistoryAbandoned HistoryStatus = "abandoned"
)

// HistoryRecord is one terminal generation outcome.
type HistoryRecord struct {
	JobID        string
	UserID       string
	Target       string
	Kind         JobKind
	Origin       Origin
	Status       HistoryStatus
	Attempts     int
	ErrorCode    string
	ErrorMessage string
	Result       *JobResult
	Checks       int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HistoryRepository persists terminal outcomes for later reconciliation.
type HistoryRepository interface {
	Record(ctx context.Context, rec HistoryRecord) error
	ClaimTimedOut(ctx context.Context) (*HistoryRecord, error)
	Resolve(ctx context.Context, jobID string, status HistoryStatus, result *JobResult, jobErr *JobError) error
}

// AnalyticsRepository updates daily generation counters.
type AnalyticsRepository interface {
	IncrementCounters(ctx context.Context, day string, counters map[string]int) error
	GetSummary(ctx context.Context) (*GenerationCounters, error)
}
