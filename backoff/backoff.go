// Package backoff provides retry delay strategies for inline delivery
// attempts and for the durable retry queue. All strategies are stateless
// and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max). A zero Max means uncapped,
// bounded only by the largest representable duration.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	f := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if f >= math.MaxInt64 {
		if e.Max > 0 {
			return e.Max
		}
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(f)
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Steps
// ──────────────────────────────────────────────────

// Steps returns delays from a fixed table; attempts past the end of the
// table reuse the last entry.
type Steps struct {
	Delays []time.Duration
}

// NewSteps creates a table-driven strategy.
func NewSteps(delays ...time.Duration) *Steps {
	return &Steps{Delays: delays}
}

// Delay returns Delays[attempt-1], clamped to the table bounds.
func (s *Steps) Delay(attempt int) time.Duration {
	if len(s.Delays) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(s.Delays) {
		i = len(s.Delays) - 1
	}
	return s.Delays[i]
}

// ──────────────────────────────────────────────────
// Defaults
// ──────────────────────────────────────────────────

// Inline returns the backoff between inline delivery attempts: 1s, 2s, 4s.
func Inline() Strategy {
	return NewExponential(time.Second, 4*time.Second)
}

// Queued returns the retry-queue backoff: unit * 2^attempts, capped at
// maxDelay. Attempt 1 therefore waits two units.
func Queued(unit, maxDelay time.Duration) Strategy {
	return NewExponential(2*unit, maxDelay)
}
