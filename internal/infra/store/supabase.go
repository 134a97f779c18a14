package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dispatchly/internal/domain/notification"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
)

const (
	logsTable       = "notification_logs"
	attemptsTable   = "delivery_attempts"
	recipientsTable = "recipients"
	inboxTable      = "inapp_messages"
)

var _ notification.Store = (*SupabaseStore)(nil)

// SupabaseStore implements the notification store using the Supabase Go SDK.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore creates a new Supabase-backed notification store.
func NewSupabaseStore(supabaseURL, serviceKey string) (*SupabaseStore, error) {
	client, err := supa.NewClient(supabaseURL, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

// logRow is the internal representation for PostgREST insert/update.
type logRow struct {
	ID             string            `json:"id,omitempty"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	RecipientID    string            `json:"recipient_id"`
	Template       string            `json:"template"`
	Category       string            `json:"category"`
	Channels       []string          `json:"channels"`
	Variables      map[string]string `json:"variables,omitempty"`
	Priority       string            `json:"priority"`
	Status         string            `json:"status"`
	Outcomes       json.RawMessage   `json:"outcomes,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	Batch          bool              `json:"batch,omitempty"`
	BatchSize      int               `json:"batch_size,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
	SettledAt      *string           `json:"settled_at,omitempty"`
}

type recipientRow struct {
	ID          string          `json:"id"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	PushToken   string          `json:"push_token,omitempty"`
	Preferences map[string]bool `json:"preferences,omitempty"`
}

// Create inserts a new notification log record, assigning its ID.
func (s *SupabaseStore) Create(ctx context.Context, log *notification.NotificationLog) error {
	row := logRow{
		ID:          log.ID,
		RecipientID: log.RecipientID,
		Template:    log.Template,
		Category:    log.Category,
		Channels:    log.Channels,
		Variables:   log.Variables,
		Priority:    log.Priority,
		Status:      string(log.Status),
		Batch:       log.Batch,
		BatchSize:   log.BatchSize,
	}
	if log.IdempotencyKey != "" {
		row.IdempotencyKey = &log.IdempotencyKey
	}

	var results []logRow
	data, _, err := s.client.From(logsTable).Insert(row, false, "", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting notification log: %w", err)
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing insert response: %w", err)
	}

	if len(results) > 0 {
		log.ID = results[0].ID
		if t, err := time.Parse(time.RFC3339Nano, results[0].CreatedAt); err == nil {
			log.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, results[0].UpdatedAt); err == nil {
			log.UpdatedAt = t
		}
	}
	return nil
}

// GetByID retrieves a notification log. Returns nil, nil when no record
// exists.
func (s *SupabaseStore) GetByID(ctx context.Context, id string) (*notification.NotificationLog, error) {
	data, _, err := s.client.From(logsTable).Select("*", "exact", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching notification log: %w", err)
	}

	var rows []logRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing notification log: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToLog(&rows[0]), nil
}

// GetByIdempotencyKey retrieves a notification log by its idempotency key.
// Returns nil, nil if no record is found.
func (s *SupabaseStore) GetByIdempotencyKey(ctx context.Context, key string) (*notification.NotificationLog, error) {
	data, _, err := s.client.From(logsTable).Select("*", "exact", false).Eq("idempotency_key", key).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching by idempotency key: %w", err)
	}

	var rows []logRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing idempotency result: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rowToLog(&rows[0]), nil
}

// UpdateStatus updates the status of a notification log.
func (s *SupabaseStore) UpdateStatus(ctx context.Context, id string, status notification.Status, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	update := map[string]any{
		"status":     string(status),
		"updated_at": now,
	}
	if errMsg != "" {
		update["error_message"] = errMsg
	}
	if status.IsFinal() {
		update["settled_at"] = now
	}

	_, _, err := s.client.From(logsTable).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return fmt.Errorf("updating notification status: %w", err)
	}
	return nil
}

// UpdateOutcomes records the settled per-channel outcomes and final status.
func (s *SupabaseStore) UpdateOutcomes(ctx context.Context, id string, status notification.Status, outcomes map[notification.Channel]notification.ChannelOutcome) error {
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("encoding outcomes: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	update := map[string]any{
		"status":     string(status),
		"outcomes":   json.RawMessage(encoded),
		"updated_at": now,
		"settled_at": now,
	}

	_, _, err = s.client.From(logsTable).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return fmt.Errorf("updating notification outcomes: %w", err)
	}
	return nil
}

// List retrieves notification logs with pagination and filtering.
func (s *SupabaseStore) List(ctx context.Context, filter notification.ListFilter) ([]*notification.NotificationLog, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	offset := (filter.Page - 1) * filter.PageSize

	query := s.client.From(logsTable).Select("*", "exact", false)
	if filter.Status != "" {
		query = query.Eq("status", filter.Status)
	}
	if filter.RecipientID != "" {
		query = query.Eq("recipient_id", filter.RecipientID)
	}
	if filter.Template != "" {
		query = query.Eq("template", filter.Template)
	}
	if filter.Category != "" {
		query = query.Eq("category", filter.Category)
	}

	query = query.Order("created_at", &postgrest.OrderOpts{Ascending: false})
	query = query.Range(offset, offset+filter.PageSize-1, "")

	data, count, err := query.Execute()
	if err != nil {
		return nil, 0, fmt.Errorf("listing notification logs: %w", err)
	}

	var rows []logRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("parsing notification list: %w", err)
	}

	logs := make([]*notification.NotificationLog, len(rows))
	for i := range rows {
		logs[i] = rowToLog(&rows[i])
	}
	return logs, int(count), nil
}

// ListStale retrieves notifications stuck in queued/processing for longer
// than olderThan.
func (s *SupabaseStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*notification.NotificationLog, error) {
	if limit <= 0 {
		limit = 50
	}

	threshold := olderThan.UTC().Format(time.RFC3339Nano)
	query := s.client.From(logsTable).
		Select("*", "exact", false).
		In("status", []string{string(notification.StatusQueued), string(notification.StatusProcessing)}).
		Lt("updated_at", threshold).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Range(0, limit-1, "")

	data, _, err := query.Execute()
	if err != nil {
		return nil, fmt.Errorf("listing stale notifications: %w", err)
	}

	var rows []logRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing stale notifications: %w", err)
	}

	logs := make([]*notification.NotificationLog, len(rows))
	for i := range rows {
		logs[i] = rowToLog(&rows[i])
	}
	return logs, nil
}

// GetRecipient retrieves a recipient's addresses and channel preferences.
// Returns nil, nil when unknown.
func (s *SupabaseStore) GetRecipient(ctx context.Context, id string) (*notification.Recipient, error) {
	data, _, err := s.client.From(recipientsTable).Select("*", "exact", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetching recipient: %w", err)
	}

	var rows []recipientRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	rcpt := &notification.Recipient{
		ID:        row.ID,
		Email:     row.Email,
		Phone:     row.Phone,
		PushToken: row.PushToken,
	}
	if len(row.Preferences) > 0 {
		rcpt.Preferences = make(map[notification.Channel]bool, len(row.Preferences))
		for ch, enabled := range row.Preferences {
			rcpt.Preferences[notification.Channel(ch)] = enabled
		}
	}
	return rcpt, nil
}

// RecordAttempt appends a delivery attempt to the audit trail.
func (s *SupabaseStore) RecordAttempt(ctx context.Context, attempt *notification.DeliveryAttempt) error {
	row := map[string]any{
		"notification_id": attempt.NotificationID,
		"channel":         string(attempt.Channel),
		"attempt_number":  attempt.AttemptNumber,
		"started_at":      attempt.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":     attempt.Duration.Milliseconds(),
		"outcome":         string(attempt.Outcome),
	}
	if attempt.Error != "" {
		row["error"] = attempt.Error
	}
	if attempt.ProviderID != "" {
		row["provider_id"] = attempt.ProviderID
	}

	_, _, err := s.client.From(attemptsTable).Insert(row, false, "", "", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting delivery attempt: %w", err)
	}
	return nil
}

// SaveInboxMessage stores a delivered in-app notification.
func (s *SupabaseStore) SaveInboxMessage(ctx context.Context, msg *notification.InboxMessage) error {
	row := map[string]any{
		"recipient_id":    msg.RecipientID,
		"notification_id": msg.NotificationID,
		"subject":         msg.Subject,
		"body":            msg.Body,
		"read":            msg.Read,
	}

	var results []struct {
		ID        string `json:"id"`
		CreatedAt string `json:"created_at"`
	}
	data, _, err := s.client.From(inboxTable).Insert(row, false, "", "representation", "").Execute()
	if err != nil {
		return fmt.Errorf("inserting inbox message: %w", err)
	}
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("parsing inbox insert response: %w", err)
	}
	if len(results) > 0 {
		msg.ID = results[0].ID
		if t, err := time.Parse(time.RFC3339Nano, results[0].CreatedAt); err == nil {
			msg.CreatedAt = t
		}
	}
	return nil
}

// rowToLog converts a logRow to a NotificationLog.
func rowToLog(row *logRow) *notification.NotificationLog {
	log := &notification.NotificationLog{
		ID:          row.ID,
		RecipientID: row.RecipientID,
		Template:    row.Template,
		Category:    row.Category,
		Channels:    row.Channels,
		Variables:   row.Variables,
		Priority:    row.Priority,
		Status:      notification.Status(row.Status),
		Batch:       row.Batch,
		BatchSize:   row.BatchSize,
	}

	if row.IdempotencyKey != nil {
		log.IdempotencyKey = *row.IdempotencyKey
	}
	if row.ErrorMessage != nil {
		log.ErrorMessage = *row.ErrorMessage
	}
	if len(row.Outcomes) > 0 {
		_ = json.Unmarshal(row.Outcomes, &log.Outcomes)
	}

	if t, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
		log.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, row.UpdatedAt); err == nil {
		log.UpdatedAt = t
	}
	if row.SettledAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *row.SettledAt); err == nil {
			log.SettledAt = &t
		}
	}
	return log
}
