package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy names accepted in configuration.
const (
	StrategyFixed       = "fixed"
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
)

// jitterFraction is the relative spread applied when jitter is enabled.
// The computed delay is perturbed by a random amount in [-20%, +20%].
const jitterFraction = 0.2

// Config describes a backoff strategy as it appears in the job type catalog.
type Config struct {
	Strategy   string        `yaml:"strategy"`
	Initial    time.Duration `yaml:"initial"`
	Increment  time.Duration `yaml:"increment"`
	Multiplier float64       `yaml:"multiplier"`
	Max        time.Duration `yaml:"max"`
	Jitter     bool          `yaml:"jitter"`
}

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
	Jitter   bool
}

func (f *Fixed) Delay(_ int) time.Duration {
	return applyJitter(f.Interval, f.Jitter)
}

// Linear grows the delay by a fixed increment per attempt.
// Delay = min(Initial + Increment*(attempt-1), Max).
type Linear struct {
	Initial   time.Duration
	Increment time.Duration
	Max       time.Duration
	Jitter    bool
}

func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Initial + l.Increment*time.Duration(attempt-1)
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return applyJitter(d, l.Jitter)
}

// Exponential multiplies the delay each attempt.
// Delay = min(Initial * Multiplier^(attempt-1), Max).
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     bool
}

func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := e.Multiplier
	if mult <= 1 {
		mult = 2
	}
	d := time.Duration(float64(e.Initial) * math.Pow(mult, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	return applyJitter(d, e.Jitter)
}

// New builds a Strategy from configuration. An empty strategy name
// defaults to exponential.
func New(cfg Config) (Strategy, error) {
	initial := cfg.Initial
	if initial <= 0 {
		initial = time.Second
	}

	switch cfg.Strategy {
	case StrategyFixed:
		return &Fixed{Interval: initial, Jitter: cfg.Jitter}, nil
	case StrategyLinear:
		increment := cfg.Increment
		if increment <= 0 {
			increment = initial
		}
		return &Linear{Initial: initial, Increment: increment, Max: cfg.Max, Jitter: cfg.Jitter}, nil
	case StrategyExponential, "":
		return &Exponential{Initial: initial, Multiplier: cfg.Multiplier, Max: cfg.Max, Jitter: cfg.Jitter}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy: %q", cfg.Strategy)
	}
}

// Default returns the strategy used when a job type does not configure
// backoff: exponential, 1s initial, doubling, capped at 1m, jittered.
func Default() Strategy {
	return &Exponential{Initial: time.Second, Multiplier: 2, Max: time.Minute, Jitter: true}
}

// applyJitter perturbs d by up to ±20% to avoid retry storms when many
// jobs fail at the same instant.
func applyJitter(d time.Duration, enabled bool) time.Duration {
	if !enabled || d <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitterFraction // [-0.2, +0.2)
	return time.Duration(float64(d) * (1 + spread))
}
