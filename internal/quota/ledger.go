// Package quota keeps the local cache of a user's monthly generation allowance.
package quota

import (
	"sync"

	"studio/internal/domain"
)

// Ledger caches the authoritative quota snapshot and applies optimistic
// local reservations after confirmed remote successes. All mutations are
// serialized; the ledger performs no I/O.
type Ledger struct {
	mu       sync.Mutex
	state    domain.QuotaState
	reserved int
}

// NewLedger creates a ledger seeded with an initial snapshot.
func NewLedger(initial domain.QuotaState) *Ledger {
	return &Ledger{state: initial.Normalize()}
}

// CheckAvailable reports whether a submission may be attempted.
func (l *Ledger) CheckAvailable() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.HasQuota
}

// ReserveOnSuccess records one consumed generation. It is only called for
// remote jobs that reached succeeded.
func (l *Ledger) ReserveOnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.UsedThisMonth++
	l.state = l.state.Normalize()
	l.reserved++
}

// Refresh replaces local state with a snapshot fetched from the service.
func (l *Ledger) Refresh(snapshot domain.QuotaState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = snapshot.Normalize()
	l.reserved = 0
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() domain.QuotaState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Reserved returns the local reservations applied since the last refresh.
func (l *Ledger) Reserved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved
}

// Exhausted builds the error returned when CheckAvailable fails.
func (l *Ledger) Exhausted() *domain.QuotaExhaustedError {
	s := l.Snapshot()
	return &domain.QuotaExhaustedError{Limit: s.MonthlyLimit, Used: s.UsedThisMonth}
}
