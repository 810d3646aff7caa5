package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes retry delays: delay = Initial * Factor^(attempt-1),
// jittered by a fixed ± amount, floored at zero and capped at Max.
// Attempt numbering starts at 1.
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Jitter  time.Duration
	Max     time.Duration
}

// DefaultBackoff returns the stock dispatch-layer backoff settings.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 500 * time.Millisecond,
		Factor:  2,
		Jitter:  100 * time.Millisecond,
		Max:     10 * time.Second,
	}
}

// Delay returns the delay before the given retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.delay(attempt, rand.Float64())
}

// delay computes the delay from a supplied random sample in [0, 1),
// kept separate so tests can pin the jitter.
func (b Backoff) delay(attempt int, sample float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 1
	}

	base := float64(b.Initial) * math.Pow(factor, float64(attempt-1))

	// sample in [0,1) maps to jitter in [-Jitter, +Jitter).
	jitter := (sample*2 - 1) * float64(b.Jitter)
	d := time.Duration(base + jitter)

	if d < 0 {
		d = 0
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
