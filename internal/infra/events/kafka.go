package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"dispatchly/internal/domain/notification"

	"github.com/segmentio/kafka-go"
)

// Notifier accepts notification requests produced from platform events. The
// notification service satisfies it.
type Notifier interface {
	Notify(ctx context.Context, req *notification.SendRequest) (*notification.SendResponse, error)
}

// Route maps an event type to the notification it should produce.
type Route struct {
	Template string
	Channels []notification.Channel
	Priority notification.Priority
}

// DefaultRoutes maps the platform's stock event types onto the stock
// templates. Deployments typically extend this from configuration.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		"course.enrolled": {
			Template: "courseEnrollment",
			Priority: notification.PriorityMedium,
		},
		"assignment.due_soon": {
			Template: "assignmentDue",
			Priority: notification.PriorityHigh,
		},
		"scholarship.awarded": {
			Template: "scholarshipAwarded",
			Priority: notification.PriorityHigh,
		},
		"payment.received": {
			Template: "paymentReceived",
			Priority: notification.PriorityHigh,
		},
		"badge.earned": {
			Template: "badgeEarned",
			Priority: notification.PriorityLow,
		},
	}
}

// ConsumerConfig configures the Kafka event consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Routes  map[string]Route
}

// platformEvent is the envelope published by upstream services.
type platformEvent struct {
	EventType   string         `json:"event_type"`
	RecipientID string         `json:"recipient_id"`
	Data        map[string]any `json:"data"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Consumer turns platform events into notification requests. Events with no
// configured route are skipped; malformed events are logged and committed so
// they never wedge the partition.
type Consumer struct {
	reader   *kafka.Reader
	notifier Notifier
	routes   map[string]Route
}

// NewConsumer creates a Kafka event consumer.
func NewConsumer(cfg ConsumerConfig, notifier Notifier) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return &Consumer{reader: reader, notifier: notifier, routes: cfg.Routes}
}

// Run consumes events until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("event consumer started", "topic", c.reader.Config().Topic, "group", c.reader.Config().GroupID)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				slog.Info("event consumer stopped")
				return nil
			}
			return fmt.Errorf("reading event: %w", err)
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var event platformEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		slog.Error("dropping malformed event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}

	route, ok := c.routes[event.EventType]
	if !ok {
		slog.Debug("no route for event type", "event_type", event.EventType)
		return
	}
	if event.RecipientID == "" {
		slog.Error("dropping event without recipient", "event_type", event.EventType, "offset", msg.Offset)
		return
	}

	req := &notification.SendRequest{
		RecipientID: event.RecipientID,
		Template:    route.Template,
		Variables:   event.Data,
		Channels:    route.Channels,
		Priority:    route.Priority,
		// Keyed by topic offset so redelivered events collapse into one
		// notification.
		IdempotencyKey: fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset),
	}

	resp, err := c.notifier.Notify(ctx, req)
	if err != nil {
		slog.Error("event notification rejected",
			"event_type", event.EventType,
			"recipient", event.RecipientID,
			"template", route.Template,
			"error", err,
		)
		return
	}
	slog.Info("event notification queued",
		"event_type", event.EventType,
		"notification_id", resp.ID,
		"recipient", event.RecipientID,
	)
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
