package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Worker processes dispatch tasks from the queue. It fetches the stored
// record, runs it through the dispatch engine, waits for the receipt to
// settle and writes the per-channel outcomes back.
//
// The queue's own retry only covers infrastructure failures (store
// unreachable, worker crash mid-task); delivery retries are driven inside
// the dispatch engine per channel.
type Worker struct {
	store      Store
	dispatcher *Dispatcher
	metrics    MetricsRecorder
}

// NewWorker creates a notification worker and wires the dispatcher's
// cancellation probe to the store, so cancellations issued through the API
// suppress retries on whichever worker holds the task.
func NewWorker(store Store, dispatcher *Dispatcher, metrics MetricsRecorder) *Worker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	dispatcher.SetCancelProbe(func(ctx context.Context, id string) bool {
		log, err := store.GetByID(ctx, id)
		if err != nil || log == nil {
			return false
		}
		return log.Status == StatusCancelled
	})
	return &Worker{store: store, dispatcher: dispatcher, metrics: metrics}
}

// ProcessTask handles a dispatch task from the queue.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload DispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling dispatch payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.process(ctx, payload.NotificationID)
}

func (w *Worker) process(ctx context.Context, id string) error {
	start := time.Now()

	log, err := w.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching notification %s: %w", id, err)
	}
	if log == nil {
		slog.Error("notification record not found", "notification_id", id)
		return fmt.Errorf("notification not found: %s: %w", id, asynq.SkipRetry)
	}
	if log.Status.IsFinal() {
		slog.Info("skipping settled notification", "notification_id", id, "status", log.Status)
		return nil
	}

	if err := w.store.UpdateStatus(ctx, id, StatusProcessing, ""); err != nil {
		slog.Error("failed to update status to processing", "notification_id", id, "error", err)
	}

	n := &Notification{
		ID:          log.ID,
		RecipientID: log.RecipientID,
		Template:    log.Template,
		Variables:   log.Variables,
		Channels:    parseChannels(log.Channels),
		Priority:    Priority(log.Priority),
		RequestedAt: log.CreatedAt,
	}
	w.metrics.NotificationEnqueued(Category(log.Category), n.Priority)

	receipt, err := w.dispatcher.Dispatch(ctx, n)
	if err != nil {
		errMsg := err.Error()
		if uerr := w.store.UpdateStatus(ctx, id, StatusFailed, errMsg); uerr != nil {
			slog.Error("failed to mark notification failed", "notification_id", id, "error", uerr)
		}
		// Template and recipient problems will not fix themselves on
		// re-delivery of the same task.
		return fmt.Errorf("dispatching notification %s: %v: %w", id, err, asynq.SkipRetry)
	}

	if err := receipt.Wait(ctx); err != nil {
		return fmt.Errorf("awaiting receipt for %s: %w", id, err)
	}

	outcomes := receipt.Outcomes()
	status := StatusFromOutcomes(outcomes)
	if err := w.store.UpdateOutcomes(ctx, id, status, outcomes); err != nil {
		return fmt.Errorf("persisting outcomes for %s: %w", id, err)
	}

	slog.Info("notification dispatched",
		"notification_id", id,
		"recipient", log.RecipientID,
		"template", log.Template,
		"status", status,
		"channels", len(outcomes),
		"duration", time.Since(start),
	)
	return nil
}

func parseChannels(raw []string) []Channel {
	out := make([]Channel, 0, len(raw))
	for _, s := range raw {
		out = append(out, Channel(s))
	}
	return out
}
