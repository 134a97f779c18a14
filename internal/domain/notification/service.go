package notification

import (
	"context"
	"fmt"
	"log/slog"

	"dispatchly/internal/common"
)

// Service handles notification business logic on the API side: request
// validation, idempotency, persistence and queueing. Delivery itself runs in
// the worker's Dispatcher.
type Service struct {
	store    Store
	queue    TaskQueue
	registry *Registry
}

// NewService creates a notification service.
func NewService(store Store, queue TaskQueue, registry *Registry) *Service {
	return &Service{store: store, queue: queue, registry: registry}
}

// Notify validates a send request, persists it and queues it for dispatch.
// Template problems (unknown template, unsupported channel, missing
// variables) are reported synchronously; delivery outcomes are resolved
// asynchronously by the worker and readable via GetNotification.
func (s *Service) Notify(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	tmpl, err := s.registry.Lookup(req.Template)
	if err != nil {
		return nil, err
	}

	channels := dedupChannels(req.Channels)
	if len(channels) == 0 {
		channels = tmpl.Channels
	}
	for _, ch := range channels {
		if !IsValidChannel(ch) {
			return nil, common.NewValidationError(fmt.Sprintf("unknown channel '%s'", ch))
		}
		if !tmpl.SupportsChannel(ch) {
			return nil, &common.UnsupportedChannelError{Template: req.Template, Channel: string(ch)}
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !IsValidPriority(priority) {
		return nil, common.NewValidationError(fmt.Sprintf("unknown priority '%s'", priority))
	}

	vars := stringifyVariables(req.Variables)
	for _, v := range tmpl.Variables {
		if _, ok := vars[v]; !ok {
			return nil, &common.MissingVariableError{Template: req.Template, Variable: v}
		}
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if existing != nil {
			slog.Info("duplicate request absorbed", "idempotency_key", req.IdempotencyKey, "notification_id", existing.ID)
			return responseFromLog(existing), nil
		}
	}

	log := &NotificationLog{
		IdempotencyKey: req.IdempotencyKey,
		RecipientID:    req.RecipientID,
		Template:       req.Template,
		Category:       string(tmpl.Category),
		Channels:       channelStrings(channels),
		Variables:      vars,
		Priority:       string(priority),
		Status:         StatusQueued,
	}
	if err := s.store.Create(ctx, log); err != nil {
		return nil, fmt.Errorf("persisting notification: %w", err)
	}

	if err := s.queue.EnqueueDispatch(log.ID, priority); err != nil {
		if uerr := s.store.UpdateStatus(ctx, log.ID, StatusFailed, "enqueue failed: "+err.Error()); uerr != nil {
			slog.Error("failed to mark notification failed after enqueue error", "notification_id", log.ID, "error", uerr)
		}
		return nil, fmt.Errorf("queueing notification: %w", err)
	}

	slog.Info("notification queued",
		"notification_id", log.ID,
		"recipient", req.RecipientID,
		"template", req.Template,
		"priority", priority,
		"channels", len(channels))

	return responseFromLog(log), nil
}

// GetNotification returns a notification record with its per-channel
// outcomes.
func (s *Service) GetNotification(ctx context.Context, id string) (*NotificationLog, error) {
	log, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching notification: %w", err)
	}
	if log == nil {
		return nil, common.NewNotFoundError("notification", id)
	}
	return log, nil
}

// ListNotifications returns a paginated, filtered slice of notification
// records.
func (s *Service) ListNotifications(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}

	logs, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return &ListResponse{
		Notifications: logs,
		Total:         total,
		Page:          filter.Page,
		PageSize:      filter.PageSize,
	}, nil
}

// Cancel marks a queued or processing notification cancelled. The worker
// checks the stored status before each retry attempt, so an in-flight
// delivery finishes its current attempt and then stops. Settled
// notifications cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	log, err := s.store.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetching notification: %w", err)
	}
	if log == nil {
		return common.NewNotFoundError("notification", id)
	}
	if log.Status.IsFinal() {
		return common.NewConflictError(fmt.Sprintf("notification %s already %s", id, log.Status))
	}
	if err := s.store.UpdateStatus(ctx, id, StatusCancelled, ""); err != nil {
		return fmt.Errorf("cancelling notification: %w", err)
	}
	slog.Info("notification cancelled", "notification_id", id)
	return nil
}

// RegisterTemplate adds a template to the live registry.
func (s *Service) RegisterTemplate(tmpl *Template) error {
	return s.registry.Register(tmpl)
}

// Templates lists the registered templates.
func (s *Service) Templates() []*Template {
	return s.registry.All()
}

func responseFromLog(log *NotificationLog) *SendResponse {
	return &SendResponse{
		ID:             log.ID,
		IdempotencyKey: log.IdempotencyKey,
		Channels:       log.Channels,
		Priority:       log.Priority,
		Status:         string(log.Status),
	}
}

func channelStrings(channels []Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func stringifyVariables(vars map[string]any) map[string]string {
	if len(vars) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			// JSON numbers decode as float64; render integers without the
			// trailing ".0".
			if t == float64(int64(t)) {
				out[k] = fmt.Sprintf("%d", int64(t))
			} else {
				out[k] = fmt.Sprintf("%g", t)
			}
		case bool:
			out[k] = fmt.Sprintf("%t", t)
		default:
			out[k] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
