package notification

import "time"

// Channel represents a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// AllChannels lists every supported channel in canonical order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

var validChannels = map[Channel]bool{
	ChannelEmail: true,
	ChannelSMS:   true,
	ChannelPush:  true,
	ChannelInApp: true,
}

// IsValidChannel checks whether a channel identifier is recognized.
func IsValidChannel(ch Channel) bool {
	return validChannels[ch]
}

// dedupChannels removes repeated channels, keeping first-occurrence order.
// A channel must map to exactly one receipt entry and one delivery, so
// duplicates in a request collapse to a single send.
func dedupChannels(channels []Channel) []Channel {
	if len(channels) < 2 {
		return channels
	}
	seen := make(map[Channel]bool, len(channels))
	out := channels[:0:0]
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// Category groups templates by their business domain.
type Category string

const (
	CategoryAcademic  Category = "academic"
	CategorySpiritual Category = "spiritual"
	CategorySocial    Category = "social"
	CategoryPayment   Category = "payment"
	CategorySystem    Category = "system"
)

// Priority controls queue placement and batching eligibility.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var validPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
	PriorityUrgent: true,
}

// IsValidPriority checks whether a priority value is recognized.
func IsValidPriority(p Priority) bool {
	return validPriorities[p]
}

// QueueName maps a priority to the asynq queue it is enqueued on.
func (p Priority) QueueName() string {
	switch p {
	case PriorityUrgent:
		return "critical"
	case PriorityLow:
		return "default"
	default:
		return "notifications"
	}
}

// BypassesBatching reports whether this priority is too time-sensitive to
// hold in a batch window.
func (p Priority) BypassesBatching() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// Recipient holds delivery addresses and per-channel preferences for a user.
type Recipient struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	PushToken string `json:"push_token,omitempty"`

	// Preferences maps channel to opt-in state. A missing entry means the
	// channel is enabled.
	Preferences map[Channel]bool `json:"preferences,omitempty"`
}

// ChannelEnabled reports whether the recipient accepts delivery on a channel.
func (r *Recipient) ChannelEnabled(ch Channel) bool {
	if r.Preferences == nil {
		return true
	}
	enabled, ok := r.Preferences[ch]
	if !ok {
		return true
	}
	return enabled
}

// Address returns the delivery address for a channel, or "" if none is set.
func (r *Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	case ChannelPush:
		return r.PushToken
	case ChannelInApp:
		return r.ID
	}
	return ""
}

// Message is rendered content ready for delivery on a single channel.
type Message struct {
	Subject string
	Body    string
}

// Notification is the unit of work handed to the dispatcher.
type Notification struct {
	ID          string
	RecipientID string
	Template    string
	Variables   map[string]string
	Channels    []Channel // empty means all channels the template declares
	Priority    Priority
	RequestedAt time.Time
}

// SendRequest is the API request payload for submitting a notification.
type SendRequest struct {
	RecipientID    string         `json:"recipient_id" binding:"required"`
	Template       string         `json:"template" binding:"required"`
	Variables      map[string]any `json:"variables"`
	Channels       []Channel      `json:"channels"`
	Priority       Priority       `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// SendResponse is the API response payload after a notification is accepted.
type SendResponse struct {
	ID             string   `json:"id"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Channels       []string `json:"channels"`
	Priority       string   `json:"priority"`
	Status         string   `json:"status"`
}

// InboxMessage is a delivered in-app notification, stored for later reading.
type InboxMessage struct {
	ID             string    `json:"id"`
	RecipientID    string    `json:"recipient_id"`
	NotificationID string    `json:"notification_id"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
