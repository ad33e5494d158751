package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"studio/internal/domain"
	"studio/internal/infra"
	"studio/internal/quota"
)

// State is the lifecycle state of one generation target.
type State string

const (
	StateIdle             State = "idle"
	StateSubmitting       State = "submitting"
	StateQueued           State = "queued"
	StateProcessing       State = "processing"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	StateTimedOut         State = "timed_out"
	StateSubmissionFailed State = "submission_failed"
)

// Terminal reports whether the state ends a job.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Active reports whether a job is in flight for the target.
func (s State) Active() bool {
	return s == StateSubmitting || s == StateQueued || s == StateProcessing
}

var (
	// ErrSuperseded is returned when a cancel or reset overtook the call.
	ErrSuperseded = errors.New("generation: superseded by cancel or reset")
	// ErrNothingToReconcile is returned when the target is not timed out.
	ErrNothingToReconcile = errors.New("generation: target has no timed out job")
)

// Update is published on every state transition of a target.
type Update struct {
	Target string                `json:"target"`
	State  State                 `json:"state"`
	Job    *domain.GenerationJob `json:"job,omitempty"`
	Err    error                 `json:"-"`
	At     time.Time             `json:"at"`
}

// Listener observes transitions. It runs with the target lock held, so it
// must return quickly and must not call back into the Controller for the
// same target.
type Listener func(Update)

// Options configures a Controller.
type Options struct {
	Service       JobService
	Quota         QuotaService
	Ledger        *quota.Ledger
	Policies      Policies
	FallbackDelay time.Duration
	Listener      Listener
	Logger        *infra.Logger
}

// Controller reconciles submissions and polled statuses into per-target
// state, and is the only owner of the poll sessions it starts. At most one
// job is live per target.
type Controller struct {
	gateway   *Gateway
	service   JobService
	quotaSvc  QuotaService
	ledger    *quota.Ledger
	scheduler *Scheduler
	simulator *Simulator
	policies  Policies
	listener  Listener
	logger    *infra.Logger
	now       func() time.Time
	refresh   singleflight.Group

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	targets map[string]*target
}

type target struct {
	mu       sync.Mutex
	epoch    uint64
	state    State
	job      *domain.GenerationJob
	err      error
	at       time.Time
	session  *Session
	fallback context.CancelFunc
}

// NewController wires the components around a job service.
func NewController(opts Options) (*Controller, error) {
	if opts.Service == nil {
		return nil, errors.New("generation: job service is required")
	}
	policies := opts.Policies
	if len(policies) == 0 {
		policies = DefaultPolicies()
	}
	if err := policies.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	ledger := opts.Ledger
	if ledger == nil {
		ledger = quota.NewLedger(domain.QuotaState{})
	}
	delay := opts.FallbackDelay
	if delay == 0 {
		delay = defaultFallbackDelay
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Controller{
		gateway:   NewGateway(opts.Service),
		service:   opts.Service,
		quotaSvc:  opts.Quota,
		ledger:    ledger,
		scheduler: NewScheduler(opts.Service, logger),
		simulator: NewSimulator(delay),
		policies:  policies,
		listener:  opts.Listener,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		stop:      stop,
		targets:   make(map[string]*target),
	}, nil
}

// Generate starts a new job for name. A job already queued or processing
// for the same target is cancelled first; a second call while the first is
// still submitting is refused with domain.ErrGenerationInFlight.
func (c *Controller) Generate(ctx context.Context, name string, in domain.InputRefs) (domain.GenerationJob, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.GenerationJob{}, fmt.Errorf("%w: target is required", domain.ErrInvalidInput)
	}
	if err := in.Validate(); err != nil {
		return domain.GenerationJob{}, err
	}
	t := c.target(name)

	t.mu.Lock()
	if t.state == StateSubmitting {
		t.mu.Unlock()
		return domain.GenerationJob{}, domain.ErrGenerationInFlight
	}
	if !c.ledger.CheckAvailable() {
		t.mu.Unlock()
		return domain.GenerationJob{}, c.ledger.Exhausted()
	}
	c.stopLocked(t)
	epoch := t.epoch
	c.transitionLocked(name, t, StateSubmitting, nil, nil)
	t.mu.Unlock()

	job, err := c.gateway.Submit(ctx, in)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch {
		if err == nil {
			c.logger.Info().Str("target", name).Str("job_id", job.ID).Msg("controller: submission finished after cancel, not polling")
		}
		return domain.GenerationJob{}, ErrSuperseded
	}
	if err != nil {
		return c.submissionFailedLocked(name, t, epoch, in, err)
	}

	c.transitionLocked(name, t, stateForStatus(job.Status), &job, nil)
	policy := c.policies.For(in.Kind)
	t.session = c.scheduler.Start(c.ctx, job, policy, func(u PollUpdate) {
		c.onPoll(name, t, epoch, u)
	})
	c.logger.Info().
		Str("target", name).
		Str("job_id", job.ID).
		Str("kind", string(in.Kind)).
		Int("max_attempts", policy.MaxAttempts).
		Msg("controller: job submitted")
	return job, nil
}

func (c *Controller) submissionFailedLocked(name string, t *target, epoch uint64, in domain.InputRefs, err error) (domain.GenerationJob, error) {
	var subErr *domain.SubmissionError
	if !errors.As(err, &subErr) {
		subErr = &domain.SubmissionError{Reason: SubmissionReasonFor(err), Err: err}
	}
	c.logger.Warn().Err(err).Str("target", name).Str("reason", string(subErr.Reason)).Msg("controller: submission failed")
	c.transitionLocked(name, t, StateSubmissionFailed, nil, subErr)

	if subErr.Reason == domain.SubmissionReasonQuota {
		go c.syncQuotaInBackground()
		return domain.GenerationJob{}, subErr
	}

	pending := c.simulator.Pending(in)
	c.transitionLocked(name, t, StateQueued, &pending, nil)
	fctx, cancel := context.WithCancel(c.ctx)
	t.fallback = cancel
	go c.runFallback(fctx, name, t, epoch, pending, in)
	return pending, nil
}

func (c *Controller) runFallback(ctx context.Context, name string, t *target, epoch uint64, pending domain.GenerationJob, in domain.InputRefs) {
	job, err := c.simulator.Complete(ctx, pending, in)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil || t.epoch != epoch {
		return
	}
	t.fallback = nil
	c.logger.Info().Str("target", name).Str("job_id", job.ID).Msg("controller: simulated result delivered")
	c.transitionLocked(name, t, StateSucceeded, &job, nil)
}

func (c *Controller) onPoll(name string, t *target, epoch uint64, u PollUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch || t.session == nil {
		c.logger.Debug().Str("target", name).Str("job_id", u.Job.ID).Msg("controller: dropping stale poll update")
		return
	}
	job := u.Job
	if u.Err != nil {
		t.session = nil
		c.transitionLocked(name, t, StateTimedOut, &job, u.Err)
		return
	}
	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		c.transitionLocked(name, t, stateForStatus(job.Status), &job, nil)
	default:
		t.session = nil
		c.applyTerminalLocked(name, t, job)
	}
}

func (c *Controller) applyTerminalLocked(name string, t *target, job domain.GenerationJob) {
	switch {
	case job.Status == domain.JobStatusSucceeded && job.Result != nil:
		c.ledger.ReserveOnSuccess()
		c.transitionLocked(name, t, StateSucceeded, &job, nil)
	case job.Status == domain.JobStatusSucceeded:
		c.transitionLocked(name, t, StateFailed, &job, &domain.JobFailedError{
			JobID:   job.ID,
			Code:    "missing_result",
			Message: "Generation finished without a result. Please try again.",
		})
	default:
		c.transitionLocked(name, t, StateFailed, &job, NewJobFailedError(job))
	}
}

// Cancel stops polling for name without publishing anything. Responses
// already in flight are discarded when they arrive.
func (c *Controller) Cancel(name string) {
	t := c.lookup(name)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c.stopLocked(t)
	if t.state.Active() {
		t.state = StateIdle
		t.job = nil
		t.err = nil
		t.at = c.now()
	}
}

// Reset cancels any job for name and publishes a transition to idle.
func (c *Controller) Reset(name string) {
	t := c.target(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	c.stopLocked(t)
	c.transitionLocked(name, t, StateIdle, nil, nil)
}

// State returns the latest update for name.
func (c *Controller) State(name string) Update {
	t := c.lookup(name)
	if t == nil {
		return Update{Target: name, State: StateIdle}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot(name)
}

// ReconcileTimedOut asks the service once more about a timed out job and
// applies the outcome if it is terminal. A still-pending job stays timed out.
func (c *Controller) ReconcileTimedOut(ctx context.Context, name string) (Update, error) {
	t := c.lookup(name)
	if t == nil {
		return Update{Target: name, State: StateIdle}, ErrNothingToReconcile
	}
	t.mu.Lock()
	if t.state != StateTimedOut || t.job == nil {
		update := t.snapshot(name)
		t.mu.Unlock()
		return update, ErrNothingToReconcile
	}
	epoch := t.epoch
	current := *t.job
	t.mu.Unlock()

	snapshot, err := c.service.JobStatus(ctx, current.ID)
	if err != nil {
		return c.State(name), err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.epoch != epoch || t.state != StateTimedOut {
		return t.snapshot(name), ErrSuperseded
	}
	next, _ := current.Observe(snapshot, c.now())
	if next.Status.Terminal() {
		c.logger.Info().Str("target", name).Str("job_id", next.ID).Str("status", string(next.Status)).Msg("controller: timed out job reconciled")
		c.applyTerminalLocked(name, t, next)
	}
	return t.snapshot(name), nil
}

// Quota returns the cached quota state.
func (c *Controller) Quota() domain.QuotaState {
	return c.ledger.Snapshot()
}

// SyncQuota refreshes the ledger from the quota endpoint. Concurrent calls
// share one request.
func (c *Controller) SyncQuota(ctx context.Context) (domain.QuotaState, error) {
	if c.quotaSvc == nil {
		return c.ledger.Snapshot(), nil
	}
	v, err, _ := c.refresh.Do("quota", func() (any, error) {
		return c.quotaSvc.FetchQuota(ctx)
	})
	if err != nil {
		return c.ledger.Snapshot(), err
	}
	c.ledger.Refresh(v.(domain.QuotaState))
	return c.ledger.Snapshot(), nil
}

func (c *Controller) syncQuotaInBackground() {
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if _, err := c.SyncQuota(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Msg("controller: quota refresh failed")
	}
}

// Close stops every session and fallback owned by the controller.
func (c *Controller) Close() {
	c.stop()
	c.mu.Lock()
	targets := make([]*target, 0, len(c.targets))
	for _, t := range c.targets {
		targets = append(targets, t)
	}
	c.mu.Unlock()
	for _, t := range targets {
		t.mu.Lock()
		c.stopLocked(t)
		t.mu.Unlock()
	}
}

func (c *Controller) target(name string) *target {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.targets[name]
	if !ok {
		t = &target{state: StateIdle}
		c.targets[name] = t
	}
	return t
}

func (c *Controller) lookup(name string) *target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targets[name]
}

// stopLocked retires the current session and fallback; any callback still
// holding the old epoch is ignored from now on.
func (c *Controller) stopLocked(t *target) {
	if t.session != nil {
		t.session.Cancel()
		t.session = nil
	}
	if t.fallback != nil {
		t.fallback()
		t.fallback = nil
	}
	t.epoch++
}

func (c *Controller) transitionLocked(name string, t *target, state State, job *domain.GenerationJob, err error) {
	t.state = state
	t.err = err
	t.at = c.now()
	if job != nil {
		copied := *job
		t.job = &copied
	} else {
		t.job = nil
	}
	if c.listener != nil {
		c.listener(t.snapshot(name))
	}
}

func (t *target) snapshot(name string) Update {
	update := Update{Target: name, State: t.state, Err: t.err, At: t.at}
	if t.job != nil {
		copied := *t.job
		update.Job = &copied
	}
	return update
}

func stateForStatus(status domain.JobStatus) State {
	if status == domain.JobStatusProcessing {
		return StateProcessing
	}
	return StateQueued
}
