package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/genbaflow/genbaflow/jobs"
)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestNotifyEnqueuesTask(t *testing.T) {
	enq := &recordingEnqueuer{}
	outbox := NewOutbox(enq, nil)

	outbox.Notify(context.Background(), Request{
		Recipient: "kanri@example.co.jp",
		Subject:   "Invoice INV-001 awaiting approval",
		Body:      "please review",
	})

	require.Len(t, enq.tasks, 1)
	require.Equal(t, jobs.TaskTypeNotifySend, enq.tasks[0].Type())

	var payload jobs.NotifySendPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, "kanri@example.co.jp", payload.Recipient)
	require.NotEmpty(t, payload.ID)
}

func TestNotifySwallowsEnqueueFailure(t *testing.T) {
	enq := &recordingEnqueuer{err: errors.New("redis down")}
	outbox := NewOutbox(enq, nil)

	// Must not panic or propagate.
	outbox.Notify(context.Background(), Request{Recipient: "a@example.com", Subject: "s"})
	require.Empty(t, enq.tasks)
}

func TestNotifySkipsEmptyRecipient(t *testing.T) {
	enq := &recordingEnqueuer{}
	outbox := NewOutbox(enq, nil)
	outbox.Notify(context.Background(), Request{Subject: "s"})
	require.Empty(t, enq.tasks)
}

func TestFormatYenGroupsDigits(t *testing.T) {
	require.Equal(t, "¥100,000", FormatYen(100_000))
	require.Equal(t, "¥0", FormatYen(0))
}
