// Package generation drives asynchronous generation jobs from submission to a
// terminal outcome: quota gating, polling, state reconciliation and the
// degraded fallback path.
package generation

import (
	"fmt"
	"time"

	"studio/internal/domain"
	"studio/internal/infra"
)

const (
	defaultWarmUp        = 2 * time.Second
	defaultInterval      = 2 * time.Second
	defaultFallbackDelay = 2 * time.Second

	// outfit swaps are slower than design synthesis, so they get ~90s
	defaultOutfitMaxAttempts = 45
	defaultDesignMaxAttempts = 30
)

// Policy bounds how a job of one kind is polled.
type Policy struct {
	WarmUp      time.Duration
	Interval    time.Duration
	MaxAttempts int
}

// Budget is the longest the scheduler waits before giving up.
func (p Policy) Budget() time.Duration {
	if p.MaxAttempts <= 0 {
		return p.WarmUp
	}
	return p.WarmUp + time.Duration(p.MaxAttempts-1)*p.Interval
}

// Validate rejects unbounded or negative policies.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("generation: max attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("generation: poll interval must be positive, got %s", p.Interval)
	}
	if p.WarmUp < 0 {
		return fmt.Errorf("generation: warm-up must not be negative, got %s", p.WarmUp)
	}
	return nil
}

// Policies maps each job kind to its polling policy.
type Policies map[domain.JobKind]Policy

// DefaultPolicies returns the reference budgets for every job kind.
func DefaultPolicies() Policies {
	return Policies{
		domain.JobKindOutfit: {WarmUp: defaultWarmUp, Interval: defaultInterval, MaxAttempts: defaultOutfitMaxAttempts},
		domain.JobKindDesign: {WarmUp: defaultWarmUp, Interval: defaultInterval, MaxAttempts: defaultDesignMaxAttempts},
	}
}

// For returns the policy for kind, falling back to the design budget.
func (p Policies) For(kind domain.JobKind) Policy {
	if policy, ok := p[kind]; ok {
		return policy
	}
	if policy, ok := p[domain.JobKindDesign]; ok {
		return policy
	}
	return Policy{WarmUp: defaultWarmUp, Interval: defaultInterval, MaxAttempts: defaultDesignMaxAttempts}
}

// Validate checks every configured policy.
func (p Policies) Validate() error {
	for kind, policy := range p {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

// PoliciesFromConfig builds the per-kind budgets from loaded configuration.
func PoliciesFromConfig(cfg *infra.Config) Policies {
	if cfg == nil {
		return DefaultPolicies()
	}
	from := func(c infra.PollConfig) Policy {
		return Policy{WarmUp: c.WarmUp, Interval: c.Interval, MaxAttempts: c.MaxAttempts}
	}
	return Policies{
		domain.JobKindOutfit: from(cfg.OutfitPolling),
		domain.JobKindDesign: from(cfg.DesignPolling),
	}
}
