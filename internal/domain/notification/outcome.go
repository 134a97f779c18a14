package notification

import (
	"errors"
	"fmt"
	"time"
)

// OutcomeKind classifies the final (or pending) state of one channel of a
// dispatch request.
type OutcomeKind string

const (
	OutcomePending   OutcomeKind = "pending"
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeDeferred  OutcomeKind = "deferred"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeTerminal  OutcomeKind = "terminal_failure"
	OutcomeExhausted OutcomeKind = "exhausted_failure"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// IsTerminalState reports whether the kind is a final state with no further
// transitions.
func (k OutcomeKind) IsTerminalState() bool {
	return k != OutcomePending
}

// ChannelOutcome records the resolution of a single channel of a dispatch.
type ChannelOutcome struct {
	Kind       OutcomeKind   `json:"kind"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	ProviderID string        `json:"provider_id,omitempty"`
}

// AttemptOutcome classifies a single delivery attempt.
type AttemptOutcome string

const (
	AttemptPending          AttemptOutcome = "pending"
	AttemptSuccess          AttemptOutcome = "success"
	AttemptRetryableFailure AttemptOutcome = "retryable_failure"
	AttemptTerminalFailure  AttemptOutcome = "terminal_failure"
)

// DeliveryAttempt is one adapter invocation for one (notification, channel)
// pair. A notification may accumulate several per channel across retries.
type DeliveryAttempt struct {
	NotificationID string         `json:"notification_id"`
	Channel        Channel        `json:"channel"`
	AttemptNumber  int            `json:"attempt_number"`
	StartedAt      time.Time      `json:"started_at"`
	Duration       time.Duration  `json:"duration"`
	Outcome        AttemptOutcome `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	ProviderID     string         `json:"provider_id,omitempty"`
}

// terminalError marks a delivery failure as permanent: invalid address, hard
// bounce, content rejected. The dispatcher never retries it.
type terminalError struct{ err error }

func (e terminalError) Error() string { return fmt.Sprintf("terminal: %v", e.err) }
func (e terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the retry controller treats it as non-retryable.
// Adapters wrap provider rejections that retrying cannot fix.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// IsTerminal reports whether err is wrapped with Terminal.
func IsTerminal(err error) bool {
	var te terminalError
	return errors.As(err, &te)
}

// retryAfterError carries an explicit retry delay hint, e.g. from a provider
// 429 with a Retry-After header.
type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string {
	return fmt.Sprintf("retry-after(%s): %v", e.after, e.err)
}
func (e retryAfterError) Unwrap() error { return e.err }

// WithRetryAfter attaches a retry delay hint to a retryable failure. The
// retry controller respects the hint, bounded by the policy's max delay.
func WithRetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterHint extracts a retry delay hint from err, if one was attached.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ra retryAfterError
	if errors.As(err, &ra) {
		return ra.after, true
	}
	return 0, false
}
