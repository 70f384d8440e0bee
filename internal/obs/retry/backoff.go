package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff returns the pause before the attempt following the given zero-based attempt.
type Backoff interface {
	Next(attempt int) time.Duration
}

// ExpoJitter doubles Base on every attempt, capped at Max, then spreads the
// result by ±Jitter.
type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	n := math.Max(float64(attempt), 0)
	d := float64(b.Base) * math.Exp2(n)
	if limit := float64(b.Max); limit > 0 && d > limit {
		d = limit
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Constant waits the same amount between all attempts.
type Constant time.Duration

func (c Constant) Next(int) time.Duration { return time.Duration(c) }

var defaultBackoff Backoff = ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second}
