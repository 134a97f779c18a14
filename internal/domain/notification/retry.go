package notification

import (
	"math/rand"
	"time"
)

// RetryPolicy defines the exponential backoff parameters for delivery
// retries. The delay before attempt N+1, after N consecutive retryable
// failures, is min(MaxDelay, InitialDelay * Multiplier^(N-1)), with optional
// proportional jitter.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction, e.g. 0.2 for ±20%
}

// DefaultRetryPolicy returns the stock policy used when configuration is
// silent.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay computes the backoff before the attempt following failure number
// failedAttempts (1-based).
func (p RetryPolicy) Delay(failedAttempts int) time.Duration {
	p = p.normalized()
	if failedAttempts < 1 {
		failedAttempts = 1
	}

	d := float64(p.InitialDelay)
	for i := 1; i < failedAttempts; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxDelay {
			break
		}
	}
	delay := time.Duration(d)
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return p.jittered(delay)
}

// DelayFor is Delay, except that an explicit retry-after hint attached to err
// takes precedence over the computed backoff, bounded by MaxDelay.
func (p RetryPolicy) DelayFor(failedAttempts int, err error) time.Duration {
	p = p.normalized()
	if hint, ok := RetryAfterHint(err); ok {
		if hint > p.MaxDelay {
			hint = p.MaxDelay
		}
		return p.jittered(hint)
	}
	return p.Delay(failedAttempts)
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	r := (rand.Float64()*2 - 1) * p.Jitter
	j := time.Duration(float64(d) * (1 + r))
	if j < 0 {
		j = 0
	}
	if j > p.MaxDelay {
		j = p.MaxDelay
	}
	return j
}
