package mailout

import (
	"math/rand/v2"
	"time"
)

// RetryPolicy computes when a failed job becomes due again.
//
// The delay doubles with each recorded attempt and is capped at MaxDelay:
// min(BaseDelay * 2^attempts, MaxDelay). The policy is a pure value; it
// carries no per-job state, matching the shared-configuration model where the
// attempt count lives on the job row.
type RetryPolicy struct {
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration
	// MaxDelay caps the delay regardless of attempt count.
	MaxDelay time.Duration
	// Jitter optionally spreads retries by up to ±Jitter fraction of the
	// delay (e.g. 0.1 for ±10%). Zero disables jitter; with jitter enabled,
	// delay monotonicity across attempts holds only in expectation.
	Jitter float64
}

// Delay returns the backoff delay for a job whose recorded attempt count is
// attempts, without jitter. Delay is monotonically non-decreasing in attempts.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempts; i++ {
		if d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	return d
}

// NextAttemptTime returns when the job should next be eligible for claiming,
// given the attempt count recorded before the failing attempt.
func (p RetryPolicy) NextAttemptTime(now time.Time, attempts int) time.Time {
	d := p.Delay(attempts)
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}

	return now.Add(d)
}
