package generation

import (
	"errors"
	"strings"
	"sync"
)

// ErrRegistryClosed is returned once the registry has been shut down.
var ErrRegistryClosed = errors.New("generation: registry closed")

// ControllerFactory builds the controller owning one user's targets.
type ControllerFactory func(userID string) (*Controller, error)

// Registry hands out one Controller per user, building it on first use.
type Registry struct {
	build ControllerFactory

	mu          sync.Mutex
	controllers map[string]*Controller
	closed      bool
}

func NewRegistry(build ControllerFactory) *Registry {
	return &Registry{build: build, controllers: make(map[string]*Controller)}
}

// ForUser returns the user's controller. A failed build is not cached.
func (r *Registry) ForUser(userID string) (*Controller, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("generation: empty user id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if c, ok := r.controllers[userID]; ok {
		return c, nil
	}
	c, err := r.build(userID)
	if err != nil {
		return nil, err
	}
	r.controllers[userID] = c
	return c, nil
}

// Len reports how many users currently own a controller.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// Close stops every controller and refuses new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*Controller)
	r.closed = true
	r.mu.Unlock()
	for _, c := range controllers {
		c.Close()
	}
}
