package notification

import "time"

// Status represents the lifecycle state of a persisted notification record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	// StatusDispatched means the receipt settled with at least one channel
	// not ending in failure (success, deferred or skipped).
	StatusDispatched Status = "dispatched"
	// StatusFailed means every requested channel ended in a terminal or
	// exhausted failure.
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsFinal reports whether the status permits no further transitions.
func (s Status) IsFinal() bool {
	return s == StatusDispatched || s == StatusFailed || s == StatusCancelled
}

// NotificationLog is the persisted record of a notification request and its
// per-channel resolution.
type NotificationLog struct {
	ID             string                     `json:"id"`
	IdempotencyKey string                     `json:"idempotency_key,omitempty"`
	RecipientID    string                     `json:"recipient_id"`
	Template       string                     `json:"template"`
	Category       string                     `json:"category"`
	Channels       []string                   `json:"channels"`
	Variables      map[string]string          `json:"variables,omitempty"`
	Priority       string                     `json:"priority"`
	Status         Status                     `json:"status"`
	Outcomes       map[string]ChannelOutcome  `json:"outcomes,omitempty"`
	ErrorMessage   string                     `json:"error_message,omitempty"`
	Batch          bool                       `json:"batch,omitempty"`
	BatchSize      int                        `json:"batch_size,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	SettledAt      *time.Time                 `json:"settled_at,omitempty"`
}

// ListFilter defines pagination and filtering options for listing
// notification logs.
type ListFilter struct {
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
	Status      string `form:"status"`
	RecipientID string `form:"recipient_id"`
	Template    string `form:"template"`
	Category    string `form:"category"`
}

// ListResponse wraps a paginated list of notification logs.
type ListResponse struct {
	Notifications []*NotificationLog `json:"notifications"`
	Total         int                `json:"total"`
	Page          int                `json:"page"`
	PageSize      int                `json:"page_size"`
}
