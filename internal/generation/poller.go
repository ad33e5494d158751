package generation

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"studio/internal/domain"
	"studio/internal/infra"
)

// StatusFetcher performs one get-job-status request.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error)
}

// PollUpdate is delivered once per successful poll, and once more when the
// attempt budget runs out.
type PollUpdate struct {
	Job     domain.GenerationJob
	Changed bool
	Err     error
}

// Terminal reports whether this is the last update of the session.
func (u PollUpdate) Terminal() bool {
	return u.Err != nil || u.Job.Status.Terminal()
}

// Scheduler runs poll sessions. Each session has at most one request in
// flight and delivers its updates sequentially from a single goroutine.
type Scheduler struct {
	svc    StatusFetcher
	logger *infra.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// NewScheduler wires a scheduler to the status endpoint.
func NewScheduler(svc StatusFetcher, logger *infra.Logger) *Scheduler {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Scheduler{svc: svc, logger: logger, sleep: sleepContext, now: time.Now}
}

// Session is the bookkeeping of one job being polled.
type Session struct {
	JobID       string
	MaxAttempts int
	Interval    time.Duration
	WarmUp      time.Duration
	StartedAt   time.Time

	attempts  atomic.Int32
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// AttemptCount returns the polls performed so far, failed ones included.
func (s *Session) AttemptCount() int {
	return int(s.attempts.Load())
}

// Cancelled reports whether Cancel was called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Cancel stops the session. No update is delivered once it returns, even
// if a request already in flight resolves later. Safe to call repeatedly.
func (s *Session) Cancel() {
	if s == nil {
		return
	}
	s.cancelled.Store(true)
	s.cancel()
}

// Done is closed when the session goroutine exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start begins polling job under policy. The first request is issued after
// the warm-up delay.
func (sc *Scheduler) Start(ctx context.Context, job domain.GenerationJob, policy Policy, onUpdate func(PollUpdate)) *Session {
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &Session{
		JobID:       job.ID,
		MaxAttempts: policy.MaxAttempts,
		Interval:    policy.Interval,
		WarmUp:      policy.WarmUp,
		StartedAt:   sc.now(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go sc.run(sessCtx, sess, job, onUpdate)
	return sess
}

func (sc *Scheduler) run(ctx context.Context, sess *Session, current domain.GenerationJob, onUpdate func(PollUpdate)) {
	defer close(sess.done)
	defer sess.cancel()

	if err := sc.sleep(ctx, sess.WarmUp); err != nil {
		return
	}
	for {
		if sess.Cancelled() {
			return
		}
		attempt := int(sess.attempts.Add(1))
		snapshot, err := sc.svc.JobStatus(ctx, sess.JobID)
		if sess.Cancelled() || ctx.Err() != nil {
			sc.logger.Debug().Str("job_id", sess.JobID).Int("attempt", attempt).Msg("poller: dropping response for stopped session")
			return
		}
		if err != nil {
			current.Attempts = attempt
			sc.logger.Warn().Err(err).Str("job_id", sess.JobID).Int("attempt", attempt).Msg("poller: status request failed")
		} else {
			next, changed := current.Observe(snapshot, sc.now())
			next.Attempts = attempt
			current = next
			if !sess.deliver(onUpdate, PollUpdate{Job: current, Changed: changed}) {
				return
			}
			if current.Status.Terminal() {
				return
			}
		}
		if attempt >= sess.MaxAttempts {
			timeout := &domain.TimeoutError{JobID: sess.JobID, Attempts: attempt, Waited: sc.now().Sub(sess.StartedAt)}
			sc.logger.Info().Str("job_id", sess.JobID).Int("attempts", attempt).Msg("poller: attempt budget exhausted")
			sess.deliver(onUpdate, PollUpdate{Job: current, Err: timeout})
			return
		}
		if err := sc.sleep(ctx, sess.Interval); err != nil {
			return
		}
	}
}

func (s *Session) deliver(onUpdate func(PollUpdate), update PollUpdate) bool {
	if s.Cancelled() {
		return false
	}
	if onUpdate != nil {
		onUpdate(update)
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
