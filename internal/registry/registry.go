// Package registry holds the static catalog of job type definitions.
// The catalog is built once at process start from configuration and is
// read-mostly afterwards; lookups are O(1).
package registry

import (
	"fmt"
	"sync"

	"github.com/htquang/jobcore/internal/job"
)

// Registry maps a job type name to its definition.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*job.Definition
}

// New creates a registry pre-populated with the given definitions.
func New(defs ...*job.Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*job.Definition, len(defs))}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition. Registering the same type twice is a
// configuration mistake and fails loudly.
func (r *Registry) Register(def *job.Definition) error {
	if def.Type == "" {
		return fmt.Errorf("job type definition missing type name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Type]; exists {
		return fmt.Errorf("job type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// Lookup returns the definition for a job type.
func (r *Registry) Lookup(jobType string) (*job.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", job.ErrUnknownJobType, jobType)
	}
	return def, nil
}

// Definitions returns all registered definitions. Used at startup to
// declare the broker topology.
func (r *Registry) Definitions() []*job.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*job.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	return defs
}
