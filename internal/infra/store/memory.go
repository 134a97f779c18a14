package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatchly/internal/domain/notification"

	"github.com/google/uuid"
)

var _ notification.Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory notification store for tests and single-node
// development. State does not survive a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	logs       map[string]*notification.NotificationLog
	byIdemKey  map[string]string
	attempts   map[string][]*notification.DeliveryAttempt
	recipients map[string]*notification.Recipient
	inbox      map[string][]*notification.InboxMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:       make(map[string]*notification.NotificationLog),
		byIdemKey:  make(map[string]string),
		attempts:   make(map[string][]*notification.DeliveryAttempt),
		recipients: make(map[string]*notification.Recipient),
		inbox:      make(map[string][]*notification.InboxMessage),
	}
}

func (s *MemoryStore) Create(ctx context.Context, log *notification.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	now := time.Now()
	log.CreatedAt = now
	log.UpdatedAt = now

	cp := *log
	s.logs[log.ID] = &cp
	if log.IdempotencyKey != "" {
		s.byIdemKey[log.IdempotencyKey] = log.ID
	}
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*notification.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (s *MemoryStore) GetByIdempotencyKey(ctx context.Context, key string) (*notification.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byIdemKey[key]
	if !ok {
		return nil, nil
	}
	cp := *s.logs[id]
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status notification.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[id]
	if !ok {
		return nil
	}
	log.Status = status
	log.UpdatedAt = time.Now()
	if errMsg != "" {
		log.ErrorMessage = errMsg
	}
	if status.IsFinal() {
		now := time.Now()
		log.SettledAt = &now
	}
	return nil
}

func (s *MemoryStore) UpdateOutcomes(ctx context.Context, id string, status notification.Status, outcomes map[notification.Channel]notification.ChannelOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[id]
	if !ok {
		return nil
	}
	log.Status = status
	log.Outcomes = make(map[string]notification.ChannelOutcome, len(outcomes))
	for ch, oc := range outcomes {
		log.Outcomes[string(ch)] = oc
	}
	now := time.Now()
	log.UpdatedAt = now
	log.SettledAt = &now
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter notification.ListFilter) ([]*notification.NotificationLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*notification.NotificationLog
	for _, log := range s.logs {
		if filter.Status != "" && string(log.Status) != filter.Status {
			continue
		}
		if filter.RecipientID != "" && log.RecipientID != filter.RecipientID {
			continue
		}
		if filter.Template != "" && log.Template != filter.Template {
			continue
		}
		if filter.Category != "" && log.Category != filter.Category {
			continue
		}
		cp := *log
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset := (filter.Page - 1) * filter.PageSize
	if offset >= total {
		return []*notification.NotificationLog{}, total, nil
	}
	end := offset + filter.PageSize
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*notification.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*notification.NotificationLog
	for _, log := range s.logs {
		if log.Status != notification.StatusQueued && log.Status != notification.StatusProcessing {
			continue
		}
		if !log.UpdatedAt.Before(olderThan) {
			continue
		}
		cp := *log
		stale = append(stale, &cp)
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryStore) GetRecipient(ctx context.Context, id string) (*notification.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rcpt, ok := s.recipients[id]
	if !ok {
		return nil, nil
	}
	cp := *rcpt
	return &cp, nil
}

// PutRecipient registers a recipient. Used by tests and development seeding.
func (s *MemoryStore) PutRecipient(rcpt *notification.Recipient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rcpt
	s.recipients[rcpt.ID] = &cp
}

func (s *MemoryStore) RecordAttempt(ctx context.Context, attempt *notification.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.attempts[attempt.NotificationID] = append(s.attempts[attempt.NotificationID], &cp)
	return nil
}

// Attempts returns the recorded delivery attempts for a notification, in
// recording order.
func (s *MemoryStore) Attempts(notificationID string) []*notification.DeliveryAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*notification.DeliveryAttempt, len(s.attempts[notificationID]))
	copy(out, s.attempts[notificationID])
	return out
}

func (s *MemoryStore) SaveInboxMessage(ctx context.Context, msg *notification.InboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	s.inbox[msg.RecipientID] = append(s.inbox[msg.RecipientID], &cp)
	return nil
}

// Inbox returns a recipient's stored in-app messages, oldest first.
func (s *MemoryStore) Inbox(recipientID string) []*notification.InboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*notification.InboxMessage, len(s.inbox[recipientID]))
	copy(out, s.inbox[recipientID])
	return out
}
