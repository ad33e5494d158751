package generation

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
)

// Sweeper settles timed out jobs after the fact. A timeout only means the
// client stopped waiting, so the service is asked again, one job per pass.
type Sweeper struct {
	history   domain.HistoryRepository
	statusFor func(userID string) StatusFetcher
	maxChecks int
	logger    *infra.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewSweeper wires a sweeper. statusFor returns a status client scoped to
// the job owner.
func NewSweeper(history domain.HistoryRepository, statusFor func(userID string) StatusFetcher, maxChecks int, logger *infra.Logger) *Sweeper {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	if maxChecks <= 0 {
		maxChecks = 10
	}
	return &Sweeper{history: history, statusFor: statusFor, maxChecks: maxChecks, logger: logger, sleep: sleepContext}
}

// Run sweeps until ctx is done, pausing for interval whenever there was
// nothing to claim or the claim failed.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info().Dur("interval", interval).Int("max_checks", s.maxChecks).Msg("worker: sweeper started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := s.SweepOnce(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("worker: sweep failed")
		}
		if claimed && err == nil {
			continue
		}
		if err := s.sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// SweepOnce claims and checks one timed out job. It reports whether a job
// was claimed.
func (s *Sweeper) SweepOnce(ctx context.Context) (bool, error) {
	rec, err := s.history.ClaimTimedOut(ctx)
	if err != nil || rec == nil {
		return false, err
	}
	log := s.logger.With().Str("job_id", rec.JobID).Str("user_id", rec.UserID).Int("checks", rec.Checks).Logger()

	snapshot, err := s.statusFor(rec.UserID).JobStatus(ctx, rec.JobID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Info().Msg("worker: job unknown to service, abandoning")
		return true, s.history.Resolve(ctx, rec.JobID, domain.HistoryAbandoned, nil, &domain.JobError{Code: "not_found", Message: "job no longer exists"})
	case err != nil:
		log.Warn().Err(err).Msg("worker: status check failed")
		return true, s.abandonIfExhausted(ctx, rec)
	}

	switch {
	case snapshot.Status == domain.JobStatusSucceeded && snapshot.Result != nil:
		result := *snapshot.Result
		result.Origin = domain.OriginRemote
		log.Info().Msg("worker: timed out job succeeded")
		return true, s.history.Resolve(ctx, rec.JobID, domain.HistorySucceeded, &result, nil)
	case snapshot.Status == domain.JobStatusSucceeded:
		return true, s.history.Resolve(ctx, rec.JobID, domain.HistoryFailed, nil, &domain.JobError{Code: "missing_result", Message: "job finished without a result"})
	case snapshot.Status == domain.JobStatusFailed:
		failed := NewJobFailedError(snapshot)
		log.Info().Str("code", failed.Code).Msg("worker: timed out job failed")
		return true, s.history.Resolve(ctx, rec.JobID, domain.HistoryFailed, nil, &domain.JobError{Code: failed.Code, Message: failed.Message})
	default:
		log.Debug().Str("status", string(snapshot.Status)).Msg("worker: job still pending")
		return true, s.abandonIfExhausted(ctx, rec)
	}
}

func (s *Sweeper) abandonIfExhausted(ctx context.Context, rec *domain.HistoryRecord) error {
	if rec.Checks < s.maxChecks {
		return nil
	}
	s.logger.Info().Str("job_id", rec.JobID).Int("checks", rec.Checks).Msg("worker: giving up on timed out job")
	return s.history.Resolve(ctx, rec.JobID, domain.HistoryAbandoned, nil, &domain.JobError{Code: "abandoned", Message: "no terminal status after repeated checks"})
}
