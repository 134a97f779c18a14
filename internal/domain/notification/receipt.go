package notification

import (
	"context"
	"sync"
)

// Receipt tracks the per-channel outcome of one dispatch request. Every
// requested channel resolves to exactly one terminal outcome; once the last
// channel resolves, the receipt settles and Done is closed.
type Receipt struct {
	NotificationID string

	mu       sync.Mutex
	outcomes map[Channel]*ChannelOutcome
	pending  int
	done     chan struct{}
}

func newReceipt(notificationID string, channels []Channel) *Receipt {
	r := &Receipt{
		NotificationID: notificationID,
		outcomes:       make(map[Channel]*ChannelOutcome, len(channels)),
		pending:        len(channels),
		done:           make(chan struct{}),
	}
	for _, ch := range channels {
		r.outcomes[ch] = &ChannelOutcome{Kind: OutcomePending}
	}
	if r.pending == 0 {
		close(r.done)
	}
	return r
}

// resolve records the terminal outcome for a channel. A channel resolves at
// most once; later calls are ignored so a cancellation racing a completed
// delivery cannot rewrite history.
func (r *Receipt) resolve(ch Channel, oc ChannelOutcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.outcomes[ch]
	if !ok || existing.Kind != OutcomePending {
		return false
	}
	*existing = oc
	r.pending--
	if r.pending == 0 {
		close(r.done)
	}
	return true
}

// Outcome returns the current outcome for a channel.
func (r *Receipt) Outcome(ch Channel) (ChannelOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oc, ok := r.outcomes[ch]
	if !ok {
		return ChannelOutcome{}, false
	}
	return *oc, true
}

// Outcomes returns a snapshot of all channel outcomes.
func (r *Receipt) Outcomes() map[Channel]ChannelOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Channel]ChannelOutcome, len(r.outcomes))
	for ch, oc := range r.outcomes {
		out[ch] = *oc
	}
	return out
}

// Settled reports whether every channel has reached a terminal outcome.
func (r *Receipt) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Done is closed once every channel has a terminal outcome.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the receipt settles or ctx expires.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
