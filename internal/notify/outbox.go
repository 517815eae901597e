// Package notify decouples approval transitions from notification delivery.
// Transitions enqueue; the worker delivers. A slow or failing transport can
// never abort an approval.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/genbaflow/genbaflow/jobs"
)

// Request is one notification to a single recipient.
type Request struct {
	Recipient string
	Subject   string
	Body      string
}

// Enqueuer abstracts the asynq client for tests.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Outbox enqueues notification tasks fire-and-forget.
type Outbox struct {
	client Enqueuer
	logger *slog.Logger
}

// NewOutbox constructs an Outbox. A nil client degrades to log-only.
func NewOutbox(client Enqueuer, logger *slog.Logger) *Outbox {
	return &Outbox{client: client, logger: logger}
}

// Notify enqueues the request. Failures are logged and swallowed: the
// calling transition has already committed and must not be unwound.
func (o *Outbox) Notify(ctx context.Context, req Request) {
	if o == nil || req.Recipient == "" {
		return
	}
	payload := jobs.NotifySendPayload{
		ID:        uuid.NewString(),
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
	}
	if o.client == nil {
		if o.logger != nil {
			o.logger.Info("notification (no transport)",
				slog.String("recipient", req.Recipient), slog.String("subject", req.Subject))
		}
		return
	}
	task, err := jobs.NewNotifySendTask(payload)
	if err != nil {
		if o.logger != nil {
			o.logger.Error("build notify task", slog.Any("error", err))
		}
		return
	}
	if _, err := o.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault)); err != nil && o.logger != nil {
		o.logger.Error("enqueue notify task",
			slog.String("recipient", req.Recipient), slog.Any("error", err))
	}
}
