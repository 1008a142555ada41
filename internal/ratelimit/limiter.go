// Package ratelimit bounds concurrent in-flight jobs per type and per
// owner so one noisy tenant cannot starve the pool. Counters track
// dispatched-but-not-yet-acknowledged jobs and are the only mutable
// state shared across workers.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/htquang/jobcore/internal/job"
)

type typeState struct {
	limits  job.RateLimit
	limiter *rate.Limiter
	active  int
	owners  map[string]int
}

// Limiter enforces per-type and per-owner concurrency caps plus an
// optional token-bucket dequeue rate per type. Safe for concurrent use.
type Limiter struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// New creates a limiter for the given definitions. Types without limits
// always acquire.
func New(defs ...*job.Definition) *Limiter {
	l := &Limiter{types: make(map[string]*typeState, len(defs))}
	for _, def := range defs {
		if !def.RateLimit.Limited() {
			continue
		}
		ts := &typeState{
			limits: def.RateLimit,
			owners: make(map[string]int),
		}
		if def.RateLimit.PerSecond > 0 {
			ts.limiter = rate.NewLimiter(rate.Limit(def.RateLimit.PerSecond), 1)
		}
		l.types[def.Type] = ts
	}
	return l
}

// Acquire checks the caps for (jobType, owner) and, if all pass,
// increments the in-flight counters and returns true. The caller MUST
// call Release exactly once when the attempt finishes, whatever the
// outcome, or the counters leak.
//
// A false return means the delivery is deferred, not failed: no retry
// attempt is consumed.
func (l *Limiter) Acquire(jobType string, owner job.Owner) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts == nil {
		return true
	}

	if ts.limits.MaxConcurrent > 0 && ts.active >= ts.limits.MaxConcurrent {
		return false
	}
	if ts.limits.MaxConcurrentPerOwner > 0 && owner.TenantID != "" &&
		ts.owners[owner.TenantID] >= ts.limits.MaxConcurrentPerOwner {
		return false
	}
	// The token bucket is consulted last: Allow consumes a token, so it
	// must only run once every concurrency cap has admitted the job.
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}

	ts.active++
	if owner.TenantID != "" {
		ts.owners[owner.TenantID]++
	}
	return true
}

// Release decrements the in-flight counters for (jobType, owner).
func (l *Limiter) Release(jobType string, owner job.Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[jobType]
	if ts == nil {
		return
	}

	if ts.active > 0 {
		ts.active--
	}
	if owner.TenantID != "" {
		if n := ts.owners[owner.TenantID]; n > 1 {
			ts.owners[owner.TenantID] = n - 1
		} else {
			delete(ts.owners, owner.TenantID)
		}
	}
}

// InFlight returns the current in-flight count for a job type.
func (l *Limiter) InFlight(jobType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[jobType]; ts != nil {
		return ts.active
	}
	return 0
}
