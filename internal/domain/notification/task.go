package notification

// TaskTypeDispatch is the asynq task type for dispatching a notification.
const TaskTypeDispatch = "notification:dispatch"

// DispatchPayload is the task payload carried through the queue. The worker
// re-reads the full record from the store; the payload carries only what it
// needs to route and fetch.
type DispatchPayload struct {
	NotificationID string `json:"notification_id"`
}

// TaskQueue abstracts the background queue so the domain never imports the
// queue client directly.
type TaskQueue interface {
	// EnqueueDispatch queues a dispatch task on the queue matching the
	// notification's priority.
	EnqueueDispatch(notificationID string, priority Priority) error
}
