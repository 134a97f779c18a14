package notification

import "context"

// Adapter defines the contract for a delivery channel. Implementations live
// in infra/ (Resend for email, Twilio for SMS, FCM for push, the store for
// in-app).
//
// Send returns the provider's message ID on success. Failures are classified
// through error wrapping: a nil error is success, an error wrapped with
// Terminal is a permanent failure the dispatcher must not retry, and any
// other error is a retryable failure. WithRetryAfter may attach a provider
// backoff hint. The dispatcher bounds every call with a timeout; exceeding it
// is a retryable failure.
type Adapter interface {
	// Channel returns which delivery channel this adapter handles.
	Channel() Channel

	// Send delivers a rendered message to the recipient's address on this
	// channel.
	Send(ctx context.Context, msg *Message, rcpt *Recipient) (providerID string, err error)
}

// MetricsRecorder abstracts delivery observability so the domain does not
// depend on a metrics backend. internal/metrics provides the Prometheus
// implementation.
type MetricsRecorder interface {
	NotificationEnqueued(category Category, priority Priority)
	DeliveryResolved(ch Channel, kind OutcomeKind)
	AttemptObserved(ch Channel, outcome AttemptOutcome, seconds float64)
	RateLimited(scope string)
	BatchFlushed(size int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) NotificationEnqueued(Category, Priority)           {}
func (NopMetrics) DeliveryResolved(Channel, OutcomeKind)             {}
func (NopMetrics) AttemptObserved(Channel, AttemptOutcome, float64)  {}
func (NopMetrics) RateLimited(string)                                {}
func (NopMetrics) BatchFlushed(int)                                  {}
