package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// HistoryRepositorySQL persists terminal generation outcomes through the
// marker-checked SQL runner.
type HistoryRepositorySQL struct {
	sql   infra.SQLExecutor
	lease time.Duration
}

// NewHistoryRepository constructs the repository. lease bounds how long a
// claimed row stays invisible to other workers.
func NewHistoryRepository(sql infra.SQLExecutor, lease time.Duration) *HistoryRepositorySQL {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &HistoryRepositorySQL{sql: sql, lease: lease}
}

// Record upserts rec keyed by job id.
func (r *HistoryRepositorySQL) Record(ctx context.Context, rec domain.HistoryRecord) error {
	if rec.JobID == "" || rec.UserID == "" {
		return fmt.Errorf("%w: history record needs job and user", domain.ErrInvalidInput)
	}
	result, err := encodeResult(rec.Result)
	if err != nil {
		return err
	}
	origin := rec.Origin
	if origin == "" {
		origin = domain.OriginRemote
	}
	var createdAt any
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertGenerationHistory,
		rec.JobID,
		rec.UserID,
		rec.Target,
		string(rec.Kind),
		string(origin),
		string(rec.Status),
		rec.Attempts,
		rec.ErrorCode,
		rec.ErrorMessage,
		result,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("record generation %s: %w", rec.JobID, err)
	}
	return nil
}

// ClaimTimedOut leases one timed out job. It returns nil when there is none.
func (r *HistoryRepositorySQL) ClaimTimedOut(ctx context.Context) (*domain.HistoryRecord, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QClaimTimedOutGeneration, int(r.lease/time.Second))
	var (
		rec    domain.HistoryRecord
		kind   string
		origin string
		status string
	)
	if err := row.Scan(
		&rec.JobID,
		&rec.UserID,
		&rec.Target,
		&kind,
		&origin,
		&status,
		&rec.Attempts,
		&rec.Checks,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim timed out generation: %w", err)
	}
	rec.Kind = domain.JobKind(kind)
	rec.Origin = domain.Origin(origin)
	rec.Status = domain.HistoryStatus(status)
	return &rec, nil
}

// Resolve moves a still timed out job to its final status. Rows resolved by
// someone else in the meantime are left alone.
func (r *HistoryRepositorySQL) Resolve(ctx context.Context, jobID string, status domain.HistoryStatus, result *domain.JobResult, jobErr *domain.JobError) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	var code, message string
	if jobErr != nil {
		code, message = jobErr.Code, jobErr.Message
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QResolveGeneration, jobID, string(status), encoded, code, message); err != nil {
		return fmt.Errorf("resolve generation %s: %w", jobID, err)
	}
	return nil
}

func encodeResult(result *domain.JobResult) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode generation result: %w", err)
	}
	return raw, nil
}

var _ domain.HistoryRepository = (*HistoryRepositorySQL)(nil)
