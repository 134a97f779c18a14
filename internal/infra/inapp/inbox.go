package inapp

import (
	"context"
	"fmt"

	"dispatchly/internal/domain/notification"

	"github.com/google/uuid"
)

var _ notification.Adapter = (*InboxAdapter)(nil)

// InboxWriter is the slice of the store the in-app adapter needs.
type InboxWriter interface {
	SaveInboxMessage(ctx context.Context, msg *notification.InboxMessage) error
}

// InboxAdapter delivers in-app notifications by writing them to the
// recipient's inbox in the store. Writes are effectively infallible short of
// store outages, which are retryable.
type InboxAdapter struct {
	inbox InboxWriter
}

// NewInboxAdapter creates an in-app inbox adapter.
func NewInboxAdapter(inbox InboxWriter) *InboxAdapter {
	return &InboxAdapter{inbox: inbox}
}

// Channel returns the in-app channel identifier.
func (a *InboxAdapter) Channel() notification.Channel {
	return notification.ChannelInApp
}

// Send stores the rendered message in the recipient's inbox and returns the
// inbox message ID.
func (a *InboxAdapter) Send(ctx context.Context, msg *notification.Message, rcpt *notification.Recipient) (string, error) {
	im := &notification.InboxMessage{
		ID:          uuid.New().String(),
		RecipientID: rcpt.ID,
		Subject:     msg.Subject,
		Body:        msg.Body,
	}
	if err := a.inbox.SaveInboxMessage(ctx, im); err != nil {
		return "", fmt.Errorf("saving inbox message: %w", err)
	}
	return im.ID, nil
}
