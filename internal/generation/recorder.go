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

type recordEvent struct {
	userID string
	update Update
}

// Recorder persists terminal outcomes and daily counters off the hot path.
// Listeners only enqueue; Run does the writes.
type Recorder struct {
	history   domain.HistoryRepository
	analytics domain.AnalyticsRepository
	logger    *infra.Logger
	events    chan recordEvent
	now       func() time.Time
}

// NewRecorder creates a recorder with room for buffer pending events.
// Either repository may be nil.
func NewRecorder(history domain.HistoryRepository, analytics domain.AnalyticsRepository, logger *infra.Logger, buffer int) *Recorder {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		history:   history,
		analytics: analytics,
		logger:    logger,
		events:    make(chan recordEvent, buffer),
		now:       time.Now,
	}
}

// Listener returns a listener that records updates on behalf of userID.
// Events are dropped when the buffer is full.
func (r *Recorder) Listener(userID string) Listener {
	return func(u Update) {
		if counterFor(u) == "" {
			return
		}
		select {
		case r.events <- recordEvent{userID: userID, update: u}:
		default:
			r.logger.Warn().Str("user_id", userID).Str("target", u.Target).Str("state", string(u.State)).Msg("recorder: buffer full, dropping update")
		}
	}
}

// Run drains events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.events:
			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.handle(writeCtx, ev)
			cancel()
		}
	}
}

func (r *Recorder) handle(ctx context.Context, ev recordEvent) {
	u := ev.update
	if r.analytics != nil {
		day := r.now().UTC().Format("2006-01-02")
		if err := r.analytics.IncrementCounters(ctx, day, map[string]int{counterFor(u): 1}); err != nil {
			r.logger.Error().Err(err).Str("state", string(u.State)).Msg("recorder: increment counters failed")
		}
	}
	if r.history == nil || u.Job == nil || !u.State.Terminal() {
		return
	}
	rec := historyRecord(ev.userID, u)
	if err := r.history.Record(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("job_id", rec.JobID).Msg("recorder: record history failed")
	}
}

func counterFor(u Update) string {
	switch u.State {
	case StateSubmitting:
		return domain.CounterSubmitted
	case StateSubmissionFailed:
		return domain.CounterSubmissionFailed
	case StateSucceeded:
		if u.Job != nil && u.Job.Simulated() {
			return domain.CounterSimulatedSucceeded
		}
		return domain.CounterRemoteSucceeded
	case StateFailed:
		return domain.CounterFailed
	case StateTimedOut:
		return domain.CounterTimedOut
	default:
		return ""
	}
}

func historyRecord(userID string, u Update) domain.HistoryRecord {
	job := u.Job
	rec := domain.HistoryRecord{
		JobID:     job.ID,
		UserID:    userID,
		Target:    u.Target,
		Kind:      job.Kind,
		Origin:    domain.OriginRemote,
		Attempts:  job.Attempts,
		Result:    job.Result,
		CreatedAt: job.CreatedAt,
	}
	if job.Simulated() {
		rec.Origin = domain.OriginSimulated
	}
	switch u.State {
	case StateSucceeded:
		rec.Status = domain.HistorySucceeded
	case StateFailed:
		rec.Status = domain.HistoryFailed
	default:
		rec.Status = domain.HistoryTimedOut
	}
	var (
		failed  *domain.JobFailedError
		timeout *domain.TimeoutError
	)
	switch {
	case errors.As(u.Err, &failed):
		rec.ErrorCode, rec.ErrorMessage = failed.Code, failed.Message
	case errors.As(u.Err, &timeout):
		rec.ErrorCode, rec.ErrorMessage = "timed_out", timeout.Error()
	}
	return rec
}
