package notification

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned (wrapped, retryable) while an adapter's breaker
// is open.
var ErrCircuitOpen = errors.New("channel circuit breaker open")

// BreakerSettings configures the per-adapter circuit breaker.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// DefaultBreakerSettings trips after 5 consecutive retryable failures and
// probes again after 30 seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// BreakerAdapter wraps an Adapter with a circuit breaker so a flapping
// provider is short-circuited instead of burning retry budget on every
// notification. While open, Send fails fast with a retryable failure whose
// hint matches the breaker's reopen delay.
type BreakerAdapter struct {
	inner   Adapter
	breaker *gobreaker.CircuitBreaker[string]
	reopen  time.Duration
}

var _ Adapter = (*BreakerAdapter)(nil)

// WithBreaker wraps adapter with a circuit breaker.
func WithBreaker(adapter Adapter, settings BreakerSettings) *BreakerAdapter {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        string(adapter.Channel()),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		// Terminal failures are recipient problems, not provider outages;
		// they must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || IsTerminal(err)
		},
	})

	return &BreakerAdapter{
		inner:   adapter,
		breaker: cb,
		reopen:  settings.OpenTimeout,
	}
}

// Channel returns the wrapped adapter's channel.
func (b *BreakerAdapter) Channel() Channel {
	return b.inner.Channel()
}

// Send delegates through the breaker.
func (b *BreakerAdapter) Send(ctx context.Context, msg *Message, rcpt *Recipient) (string, error) {
	id, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Send(ctx, msg, rcpt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", WithRetryAfter(ErrCircuitOpen, b.reopen)
	}
	return id, err
}
