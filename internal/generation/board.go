package generation

import (
	"sort"
	"sync"
)

// Board keeps the latest update of every target, per user. Each controller
// gets its own listener scoped to one user.
type Board struct {
	mu     sync.RWMutex
	latest map[string]map[string]Update
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{latest: make(map[string]map[string]Update)}
}

// Listener returns a listener that records updates for userID.
func (b *Board) Listener(userID string) Listener {
	return func(u Update) {
		b.mu.Lock()
		defer b.mu.Unlock()
		targets, ok := b.latest[userID]
		if !ok {
			targets = make(map[string]Update)
			b.latest[userID] = targets
		}
		if prev, ok := targets[u.Target]; ok && u.At.Before(prev.At) {
			return
		}
		targets[u.Target] = u
	}
}

// Latest returns the last update recorded for a target.
func (b *Board) Latest(userID, target string) (Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.latest[userID][target]
	return u, ok
}

// Recent returns every recorded target of userID, newest first.
func (b *Board) Recent(userID string) []Update {
	b.mu.RLock()
	out := make([]Update, 0, len(b.latest[userID]))
	for _, u := range b.latest[userID] {
		out = append(out, u)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Target < out[j].Target
		}
		return out[i].At.After(out[j].At)
	})
	return out
}

// Forget drops everything recorded for userID.
func (b *Board) Forget(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, userID)
}

// Fanout returns a listener that calls each non-nil listener in order.
func Fanout(listeners ...Listener) Listener {
	active := make([]Listener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			active = append(active, l)
		}
	}
	return func(u Update) {
		for _, l := range active {
			l(u)
		}
	}
}
