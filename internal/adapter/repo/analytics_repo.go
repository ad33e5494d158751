package repo

import (
	"context"
	"fmt"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// AnalyticsRepositorySQL implements AnalyticsRepository using PostgreSQL.
type AnalyticsRepositorySQL struct {
	sql infra.SQLExecutor
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(sql infra.SQLExecutor) *AnalyticsRepositorySQL {
	return &AnalyticsRepositorySQL{sql: sql}
}

// IncrementCounters adds counters to the totals of day (YYYY-MM-DD).
func (r *AnalyticsRepositorySQL) IncrementCounters(ctx context.Context, day string, counters map[string]int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QIncrementGenerationCounters,
		day,
		counters[domain.CounterSubmitted],
		counters[domain.CounterSubmissionFailed],
		counters[domain.CounterRemoteSucceeded],
		counters[domain.CounterSimulatedSucceeded],
		counters[domain.CounterFailed],
		counters[domain.CounterTimedOut],
	)
	if err != nil {
		return fmt.Errorf("increment generation counters: %w", err)
	}
	return nil
}

// GetSummary returns the most recent day, or domain.ErrNotFound.
func (r *AnalyticsRepositorySQL) GetSummary(ctx context.Context) (*domain.GenerationCounters, error) {
	var summary domain.GenerationCounters
	if err := r.sql.QueryRow(ctx, sqlinline.QLatestGenerationCounters).Scan(
		&summary.Day,
		&summary.Submitted,
		&summary.SubmissionFailed,
		&summary.RemoteSucceeded,
		&summary.SimulatedSucceeded,
		&summary.Failed,
		&summary.TimedOut,
		&summary.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load generation counters: %w", err)
	}
	return &summary, nil
}

var _ domain.AnalyticsRepository = (*AnalyticsRepositorySQL)(nil)
