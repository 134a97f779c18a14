package notification

import (
	"errors"
	"testing"
	"time"
)

// TestDelayGrowsExponentially verifies the backoff schedule with jitter
// disabled.
func TestDelayGrowsExponentially(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	cases := []struct {
		failedAttempts int
		want           time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.failedAttempts); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.failedAttempts, got, tc.want)
		}
	}
}

// TestDelayJitterBounds verifies jittered delays stay within the fraction
// around the base value.
func TestDelayJitterBounds(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		Jitter:       0.2,
	}

	lo := 8 * time.Second
	hi := 12 * time.Second
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		if d < lo || d > hi {
			t.Fatalf("Delay(1) = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}

// TestDelayForHonorsRetryAfterHint verifies a provider-supplied hint
// overrides the computed backoff, capped at MaxDelay.
func TestDelayForHonorsRetryAfterHint(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	hinted := WithRetryAfter(errors.New("throttled"), 7*time.Second)
	if got := p.DelayFor(1, hinted); got != 7*time.Second {
		t.Errorf("DelayFor with hint = %v, want 7s", got)
	}

	excessive := WithRetryAfter(errors.New("throttled"), 5*time.Minute)
	if got := p.DelayFor(1, excessive); got != 30*time.Second {
		t.Errorf("DelayFor with excessive hint = %v, want capped 30s", got)
	}

	plain := errors.New("timeout")
	if got := p.DelayFor(1, plain); got != time.Second {
		t.Errorf("DelayFor without hint = %v, want 1s", got)
	}
}

// TestDefaultRetryPolicy confirms the stock policy shape.
func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.Delay(1) <= 0 {
		t.Error("first delay must be positive")
	}
}

// TestTerminalClassification verifies the error classification helpers.
func TestTerminalClassification(t *testing.T) {
	base := errors.New("bad address")
	if IsTerminal(base) {
		t.Error("plain error classified terminal")
	}
	if !IsTerminal(Terminal(base)) {
		t.Error("wrapped terminal error not recognized")
	}

	// Classification survives further wrapping.
	wrapped := WithRetryAfter(Terminal(base), time.Second)
	if !IsTerminal(wrapped) {
		t.Error("terminal classification lost through wrapping")
	}

	if Terminal(nil) != nil {
		t.Error("Terminal(nil) should be nil")
	}

	if _, ok := RetryAfterHint(base); ok {
		t.Error("plain error reported a retry-after hint")
	}
	if after, ok := RetryAfterHint(WithRetryAfter(base, 3*time.Second)); !ok || after != 3*time.Second {
		t.Errorf("RetryAfterHint = %v, %v; want 3s, true", after, ok)
	}
}
