package notification

import (
	"context"
	"time"
)

// Store defines the contract for persisting notification state.
// Implementations live in infra/store/ (Supabase, and an in-memory store for
// tests and single-node development).
type Store interface {
	// Create inserts a new notification log record, assigning its ID.
	Create(ctx context.Context, log *NotificationLog) error

	// GetByID retrieves a notification log by its ID. Returns nil, nil if
	// no record exists.
	GetByID(ctx context.Context, id string) (*NotificationLog, error)

	// GetByIdempotencyKey retrieves a notification log by its idempotency
	// key. Returns nil, nil if no record is found.
	GetByIdempotencyKey(ctx context.Context, key string) (*NotificationLog, error)

	// UpdateStatus updates the status of a notification log.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error

	// UpdateOutcomes records the settled per-channel outcomes and the final
	// status of a notification.
	UpdateOutcomes(ctx context.Context, id string, status Status, outcomes map[Channel]ChannelOutcome) error

	// List retrieves notification logs with pagination and filtering.
	List(ctx context.Context, filter ListFilter) ([]*NotificationLog, int, error)

	// ListStale retrieves notifications stuck in queued/processing for
	// longer than the given threshold. Used by the reaper.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*NotificationLog, error)

	// GetRecipient retrieves a recipient's addresses and channel
	// preferences. Returns nil, nil when unknown.
	GetRecipient(ctx context.Context, id string) (*Recipient, error)

	// RecordAttempt appends a delivery attempt to the audit trail.
	RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error

	// SaveInboxMessage stores a delivered in-app notification.
	SaveInboxMessage(ctx context.Context, msg *InboxMessage) error
}

// RecipientDirectory is the slice of Store the dispatcher needs for address
// and preference lookup.
type RecipientDirectory interface {
	GetRecipient(ctx context.Context, id string) (*Recipient, error)
}

// DeliveryJournal is the slice of Store the dispatcher uses for the attempt
// audit trail and merged batch records.
type DeliveryJournal interface {
	RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error
	Create(ctx context.Context, log *NotificationLog) error
	UpdateOutcomes(ctx context.Context, id string, status Status, outcomes map[Channel]ChannelOutcome) error
}
