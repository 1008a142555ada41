package task

import (
	"fmt"
	"sync"
)

// Registry maps a job type to its handler. Handlers are registered once
// at startup; concurrent reads during dispatch are lock-cheap.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" {
		return fmt.Errorf("handler registration missing job type")
	}
	if h == nil {
		return fmt.Errorf("nil handler for job type %q", jobType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler for job type %q already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Get returns the handler for a job type, or false when none is
// registered (a configuration error on the dispatch path).
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
