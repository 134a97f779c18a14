package notification

import (
	"context"
	"testing"
	"time"
)

// TestReceiptSettlesWhenAllChannelsResolve verifies Done closes only after
// every channel has an outcome.
func TestReceiptSettlesWhenAllChannelsResolve(t *testing.T) {
	r := newReceipt("n1", []Channel{ChannelEmail, ChannelPush})

	if r.Settled() {
		t.Fatal("receipt settled with pending channels")
	}

	r.resolve(ChannelEmail, ChannelOutcome{Kind: OutcomeSuccess})
	select {
	case <-r.Done():
		t.Fatal("Done closed with one channel still pending")
	default:
	}

	r.resolve(ChannelPush, ChannelOutcome{Kind: OutcomeTerminal})
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done did not close after the last channel resolved")
	}
	if !r.Settled() {
		t.Error("Settled() = false after all channels resolved")
	}
}

// TestReceiptResolveOnce verifies a channel's first outcome wins.
func TestReceiptResolveOnce(t *testing.T) {
	r := newReceipt("n1", []Channel{ChannelEmail})

	if !r.resolve(ChannelEmail, ChannelOutcome{Kind: OutcomeSuccess, Attempts: 1}) {
		t.Fatal("first resolve rejected")
	}
	if r.resolve(ChannelEmail, ChannelOutcome{Kind: OutcomeTerminal}) {
		t.Fatal("second resolve accepted")
	}

	oc, ok := r.Outcome(ChannelEmail)
	if !ok || oc.Kind != OutcomeSuccess {
		t.Errorf("Outcome = %+v, %v; want the first resolution", oc, ok)
	}
}

// TestReceiptWaitHonorsContext verifies Wait returns the context error when
// the receipt never settles.
func TestReceiptWaitHonorsContext(t *testing.T) {
	r := newReceipt("n1", []Channel{ChannelEmail})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Fatal("Wait returned nil on an unsettled receipt")
	}
}

// TestReceiptOutcomesSnapshot verifies Outcomes returns a copy including
// still-pending channels.
func TestReceiptOutcomesSnapshot(t *testing.T) {
	r := newReceipt("n1", []Channel{ChannelEmail, ChannelPush})
	r.resolve(ChannelEmail, ChannelOutcome{Kind: OutcomeSuccess})

	snap := r.Outcomes()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d channels, want 2", len(snap))
	}
	if snap[ChannelPush].Kind != OutcomePending {
		t.Errorf("pending channel Kind = %s, want pending", snap[ChannelPush].Kind)
	}

	// Mutating the snapshot must not affect the receipt.
	snap[ChannelEmail] = ChannelOutcome{Kind: OutcomeTerminal}
	if oc, _ := r.Outcome(ChannelEmail); oc.Kind != OutcomeSuccess {
		t.Error("snapshot mutation leaked into the receipt")
	}
}
