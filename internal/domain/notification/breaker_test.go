package notification

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestBreakerOpensOnConsecutiveFailures verifies the breaker short-circuits
// after the configured failure streak, failing fast with a retryable error
// hinting the reopen delay.
func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	inner := &stubAdapter{
		channel: ChannelEmail,
		Scripts: []error{errors.New("connection refused")},
	}
	wrapped := WithBreaker(inner, BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := wrapped.Send(ctx, &Message{}, testRecipient()); err == nil {
			t.Fatalf("send #%d unexpectedly succeeded", i)
		}
	}
	callsBeforeOpen := inner.callCount()

	_, err := wrapped.Send(ctx, &Message{}, testRecipient())
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if IsTerminal(err) {
		t.Error("open-circuit error must stay retryable")
	}
	if after, ok := RetryAfterHint(err); !ok || after != time.Minute {
		t.Errorf("RetryAfterHint = %v, %v; want 1m, true", after, ok)
	}
	if inner.callCount() != callsBeforeOpen {
		t.Errorf("inner adapter called while circuit open")
	}
}

// TestBreakerIgnoresTerminalFailures verifies recipient-level terminal
// errors never trip the breaker.
func TestBreakerIgnoresTerminalFailures(t *testing.T) {
	inner := &stubAdapter{
		channel: ChannelEmail,
		Scripts: []error{Terminal(errors.New("mailbox does not exist"))},
	}
	wrapped := WithBreaker(inner, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := wrapped.Send(ctx, &Message{}, testRecipient())
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("breaker tripped on terminal failures at send #%d", i)
		}
		if !IsTerminal(err) {
			t.Fatalf("terminal classification lost: %v", err)
		}
	}
	if inner.callCount() != 10 {
		t.Errorf("inner adapter called %d times, want 10", inner.callCount())
	}
}

// TestBreakerPassesSuccessThrough verifies normal operation is untouched.
func TestBreakerPassesSuccessThrough(t *testing.T) {
	inner := &stubAdapter{channel: ChannelEmail, Scripts: []error{nil}}
	wrapped := WithBreaker(inner, BreakerSettings{})

	id, err := wrapped.Send(context.Background(), &Message{}, testRecipient())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "provider-msg-1" {
		t.Errorf("provider id = %q", id)
	}
	if wrapped.Channel() != ChannelEmail {
		t.Errorf("Channel = %s", wrapped.Channel())
	}
}
