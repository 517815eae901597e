package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotifySend delivers one approval notification.
	TaskTypeNotifySend = "notify:send"
	// TaskTypePeriodAutoClose closes elapsed monthly invoice periods.
	TaskTypePeriodAutoClose = "periods:autoclose"
)

// NotifySendPayload describes one notification request.
type NotifySendPayload struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// NewNotifySendTask constructs an Asynq task for a notification.
func NewNotifySendTask(payload NotifySendPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotifySend, data), nil
}

// HandleNotifySendTask processes TaskTypeNotifySend tasks. Delivery prints
// to the console outside production; wiring a real mail transport swaps this
// handler, not the callers.
func HandleNotifySendTask(ctx context.Context, t *asynq.Task) error {
	var payload NotifySendPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	fmt.Printf("[jobs] notify %s to=%s subject=%s\n", payload.ID, payload.Recipient, payload.Subject)
	return nil
}

// NewPeriodAutoCloseTask constructs the auto-close task.
func NewPeriodAutoCloseTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskTypePeriodAutoClose, nil), nil
}
