package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatchly/internal/common"

	"github.com/google/uuid"
)

// fakeStore is the in-test Store: enough behavior for the service paths.
type fakeStore struct {
	mu        sync.Mutex
	logs      map[string]*NotificationLog
	byIdemKey map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		logs:      make(map[string]*NotificationLog),
		byIdemKey: make(map[string]string),
	}
}

func (s *fakeStore) Create(ctx context.Context, log *NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now()
	log.UpdatedAt = log.CreatedAt
	cp := *log
	s.logs[log.ID] = &cp
	if log.IdempotencyKey != "" {
		s.byIdemKey[log.IdempotencyKey] = log.ID
	}
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*NotificationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (s *fakeStore) GetByIdempotencyKey(ctx context.Context, key string) (*NotificationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdemKey[key]
	if !ok {
		return nil, nil
	}
	cp := *s.logs[id]
	return &cp, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		log.Status = status
		log.ErrorMessage = errMsg
		log.UpdatedAt = time.Now()
	}
	return nil
}

func (s *fakeStore) UpdateOutcomes(ctx context.Context, id string, status Status, outcomes map[Channel]ChannelOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[id]; ok {
		log.Status = status
		log.Outcomes = make(map[string]ChannelOutcome, len(outcomes))
		for ch, oc := range outcomes {
			log.Outcomes[string(ch)] = oc
		}
	}
	return nil
}

func (s *fakeStore) List(ctx context.Context, filter ListFilter) ([]*NotificationLog, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*NotificationLog
	for _, log := range s.logs {
		if filter.Status != "" && string(log.Status) != filter.Status {
			continue
		}
		if filter.RecipientID != "" && log.RecipientID != filter.RecipientID {
			continue
		}
		cp := *log
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (s *fakeStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*NotificationLog, error) {
	return nil, nil
}

func (s *fakeStore) GetRecipient(ctx context.Context, id string) (*Recipient, error) {
	return nil, nil
}

func (s *fakeStore) RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error {
	return nil
}

func (s *fakeStore) SaveInboxMessage(ctx context.Context, msg *InboxMessage) error {
	return nil
}

// fakeQueue records enqueued dispatch tasks.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	queues   []string
	fail     error
}

func (q *fakeQueue) EnqueueDispatch(notificationID string, priority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.enqueued = append(q.enqueued, notificationID)
	q.queues = append(q.queues, priority.QueueName())
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeQueue) {
	t.Helper()
	registry := NewRegistry(true)
	if err := SeedDefaults(registry); err != nil {
		t.Fatalf("SeedDefaults: %v", err)
	}
	store := newFakeStore()
	queue := &fakeQueue{}
	return NewService(store, queue, registry), store, queue
}

func sendReq() *SendRequest {
	return &SendRequest{
		RecipientID: "rcpt-1",
		Template:    "courseEnrollment",
		Variables:   map[string]any{"userName": "Amina", "courseName": "Algebra"},
		Channels:    []Channel{ChannelEmail},
		Priority:    PriorityMedium,
	}
}

// TestNotifyPersistsAndEnqueues verifies the happy path: record created
// queued, task enqueued on the priority's queue.
func TestNotifyPersistsAndEnqueues(t *testing.T) {
	svc, store, queue := newTestService(t)

	resp, err := svc.Notify(context.Background(), sendReq())
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if resp.Status != string(StatusQueued) {
		t.Errorf("Status = %s, want queued", resp.Status)
	}

	log, err := store.GetByID(context.Background(), resp.ID)
	if err != nil || log == nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if log.Category != string(CategoryAcademic) {
		t.Errorf("Category = %s, want academic", log.Category)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.enqueued) != 1 || queue.enqueued[0] != resp.ID {
		t.Errorf("enqueued = %v, want [%s]", queue.enqueued, resp.ID)
	}
	if queue.queues[0] != "notifications" {
		t.Errorf("queue = %s, want notifications", queue.queues[0])
	}
}

// TestNotifyDedupsChannels verifies a request repeating a channel persists
// it once, so the worker never fans out duplicate deliveries.
func TestNotifyDedupsChannels(t *testing.T) {
	svc, store, _ := newTestService(t)

	req := sendReq()
	req.Channels = []Channel{ChannelEmail, ChannelEmail, ChannelPush, ChannelEmail}
	resp, err := svc.Notify(context.Background(), req)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	log, err := store.GetByID(context.Background(), resp.ID)
	if err != nil || log == nil {
		t.Fatalf("record not persisted: %v", err)
	}
	want := []string{"email", "push"}
	if len(log.Channels) != len(want) {
		t.Fatalf("Channels = %v, want %v", log.Channels, want)
	}
	for i, ch := range want {
		if log.Channels[i] != ch {
			t.Errorf("Channels[%d] = %s, want %s", i, log.Channels[i], ch)
		}
	}
}

// TestNotifyUrgentRoutesToCritical verifies priority-to-queue routing.
func TestNotifyUrgentRoutesToCritical(t *testing.T) {
	svc, _, queue := newTestService(t)

	req := sendReq()
	req.Priority = PriorityUrgent
	if _, err := svc.Notify(context.Background(), req); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if queue.queues[0] != "critical" {
		t.Errorf("queue = %s, want critical", queue.queues[0])
	}
}

// TestNotifyValidatesSynchronously verifies template problems are rejected
// before anything is persisted or enqueued.
func TestNotifyValidatesSynchronously(t *testing.T) {
	svc, store, queue := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*SendRequest)
		check  func(error) bool
	}{
		{
			name:   "unknown template",
			mutate: func(r *SendRequest) { r.Template = "ghost" },
			check: func(err error) bool {
				var e *common.TemplateNotFoundError
				return errors.As(err, &e)
			},
		},
		{
			name:   "unsupported channel",
			mutate: func(r *SendRequest) { r.Channels = []Channel{ChannelSMS} },
			check: func(err error) bool {
				var e *common.UnsupportedChannelError
				return errors.As(err, &e)
			},
		},
		{
			name:   "missing variable",
			mutate: func(r *SendRequest) { r.Variables = map[string]any{"userName": "Amina"} },
			check: func(err error) bool {
				var e *common.MissingVariableError
				return errors.As(err, &e) && e.Variable == "courseName"
			},
		},
		{
			name:   "invalid priority",
			mutate: func(r *SendRequest) { r.Priority = "asap" },
			check: func(err error) bool {
				var e *common.ValidationError
				return errors.As(err, &e)
			},
		},
	}
	for _, tc := range cases {
		req := sendReq()
		tc.mutate(req)
		_, err := svc.Notify(ctx, req)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !tc.check(err) {
			t.Errorf("%s: wrong error type: %v", tc.name, err)
		}
	}

	store.mu.Lock()
	persisted := len(store.logs)
	store.mu.Unlock()
	if persisted != 0 {
		t.Errorf("%d records persisted by rejected requests", persisted)
	}
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.enqueued) != 0 {
		t.Errorf("%d tasks enqueued by rejected requests", len(queue.enqueued))
	}
}

// TestNotifyIdempotencyKeyAbsorbsDuplicates verifies the second request with
// the same key returns the original record and enqueues nothing.
func TestNotifyIdempotencyKeyAbsorbsDuplicates(t *testing.T) {
	svc, _, queue := newTestService(t)
	ctx := context.Background()

	req := sendReq()
	req.IdempotencyKey = "evt-123"
	first, err := svc.Notify(ctx, req)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	second, err := svc.Notify(ctx, req)
	if err != nil {
		t.Fatalf("duplicate Notify: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate got new ID %s, want %s", second.ID, first.ID)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.enqueued) != 1 {
		t.Errorf("enqueued %d tasks, want 1", len(queue.enqueued))
	}
}

// TestNotifyEnqueueFailureMarksFailed verifies a queue error surfaces and
// flips the record to failed.
func TestNotifyEnqueueFailureMarksFailed(t *testing.T) {
	svc, store, queue := newTestService(t)
	queue.fail = errors.New("redis down")

	_, err := svc.Notify(context.Background(), sendReq())
	if err == nil {
		t.Fatal("expected enqueue failure to surface")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	for _, log := range store.logs {
		if log.Status != StatusFailed {
			t.Errorf("Status = %s, want failed", log.Status)
		}
	}
}

// TestCancelLifecycle verifies cancel succeeds on live records, 404s on
// unknown ones and conflicts on settled ones.
func TestCancelLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Notify(ctx, sendReq())
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := svc.Cancel(ctx, resp.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	log, _ := store.GetByID(ctx, resp.ID)
	if log.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", log.Status)
	}

	var notFound *common.NotFoundError
	if err := svc.Cancel(ctx, "ghost"); !errors.As(err, &notFound) {
		t.Errorf("Cancel(ghost) = %v, want NotFoundError", err)
	}

	var conflict *common.ConflictError
	if err := svc.Cancel(ctx, resp.ID); !errors.As(err, &conflict) {
		t.Errorf("Cancel(settled) = %v, want ConflictError", err)
	}
}

// TestGetNotificationNotFound verifies unknown IDs map to NotFoundError.
func TestGetNotificationNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	var notFound *common.NotFoundError
	if _, err := svc.GetNotification(context.Background(), "ghost"); !errors.As(err, &notFound) {
		t.Errorf("GetNotification = %v, want NotFoundError", err)
	}
}

// TestStringifyVariables verifies JSON-decoded variable values render
// without float artifacts.
func TestStringifyVariables(t *testing.T) {
	got := stringifyVariables(map[string]any{
		"name":   "Amina",
		"count":  float64(3),
		"amount": 19.5,
		"flag":   true,
	})
	want := map[string]string{
		"name":   "Amina",
		"count":  "3",
		"amount": "19.5",
		"flag":   "true",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
