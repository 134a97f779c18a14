package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"dispatchly/internal/domain/notification"

	"github.com/hibiken/asynq"
)

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
}

// NewServer creates a new asynq server connected to Redis. Queue weights
// follow notification priority: urgent traffic lands on critical, low on
// default, the rest on notifications.
func NewServer(redisAddr, password string, db int, concurrency int) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"critical":      6,
				"notifications": 3,
				"default":       1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				// Infra-level retry only; delivery retries run inside the
				// dispatch engine. 30s, 60s, 120s, ...
				return time.Duration(30*(1<<uint(n-1))) * time.Second
			},
		},
	)
}

// Client wraps an asynq client behind the domain's TaskQueue contract.
type Client struct {
	client   *asynq.Client
	maxRetry int
}

// NewTaskQueue wraps an asynq client for the domain.
func NewTaskQueue(client *asynq.Client, maxRetry int) *Client {
	if maxRetry <= 0 {
		maxRetry = 3
	}
	return &Client{client: client, maxRetry: maxRetry}
}

// EnqueueDispatch queues a dispatch task on the queue matching the
// notification's priority.
func (c *Client) EnqueueDispatch(notificationID string, priority notification.Priority) error {
	payload, err := json.Marshal(notification.DispatchPayload{NotificationID: notificationID})
	if err != nil {
		return fmt.Errorf("marshaling dispatch payload: %w", err)
	}

	task := asynq.NewTask(notification.TaskTypeDispatch, payload)
	_, err = c.client.Enqueue(task,
		asynq.MaxRetry(c.maxRetry),
		asynq.Queue(priority.QueueName()),
	)
	if err != nil {
		return fmt.Errorf("enqueuing dispatch task: %w", err)
	}
	return nil
}
