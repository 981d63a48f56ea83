package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

const defaultConflictDelay = 20 * time.Millisecond

// RetryPolicy is exponential backoff with optional jitter. The sync worker
// uses it for sheet writes and the booking service for the single retry of
// a conflicting insert.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay over [d*(1-Jitter), d*(1+Jitter)]. Zero
	// keeps delays deterministic.
	Jitter float64

	random func() float64
}

// ConflictRetry is the policy for serialization conflicts on booking
// creation: one retry, jittered so racing writers do not collide again.
func ConflictRetry(initial, maxDelay time.Duration) RetryPolicy {
	if initial <= 0 {
		initial = defaultConflictDelay
	}
	return RetryPolicy{
		MaxRetries:    1,
		InitialDelay:  initial,
		MaxDelay:      maxDelay,
		BackoffFactor: 2,
		Jitter:        0.5,
	}
}

// Allows reports whether a retry may follow the given failed attempt
// (1-based).
func (r RetryPolicy) Allows(attempt int) bool {
	return attempt <= r.MaxRetries
}

// NextDelay returns the pause before retrying after attempt (1-based),
// clamped to MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if j := math.Min(r.Jitter, 1); j > 0 {
		rnd := r.random
		if rnd == nil {
			rnd = rand.Float64
		}
		delay *= 1 - j + 2*j*rnd()
	}

	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = r.InitialDelay
	}
	return d
}
