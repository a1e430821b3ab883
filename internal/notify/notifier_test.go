package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	messages []rabbitmq.Message
	err      error
}

func (f *fakePublisher) PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func newTestNotifier(pub Publisher) *RabbitNotifier {
	return NewRabbitNotifier(pub, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var created = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func TestNotifyTerminal_Completed(t *testing.T) {
	pub := &fakePublisher{}
	job := domain.Job{
		ID:        "job-1",
		Owner:     "alice",
		Status:    domain.JobStatusCompleted,
		Progress:  100,
		Result:    &domain.Result{Decision: "PASS", ReportRef: "job-1/evaluation_report.json"},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}

	require.NoError(t, newTestNotifier(pub).NotifyTerminal(context.Background(), job))
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, RoutingKeyCompleted, msg.RoutingKey)
	assert.Equal(t, "job-1", msg.MessageID)
	assert.Equal(t, "application/json", msg.ContentType)

	var ev JobEvent
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, "PASS", ev.Decision)
	assert.Equal(t, "alice", ev.UserID)
	assert.Equal(t, "COMPLETED", ev.Status)
	assert.Empty(t, ev.ErrorKind)
	assert.True(t, ev.FinishedAt.Equal(created.Add(time.Minute)))
}

func TestNotifyTerminal_Failed(t *testing.T) {
	pub := &fakePublisher{}
	job := domain.Job{
		ID:     "job-2",
		Owner:  "bob",
		Status: domain.JobStatusFailed,
		Error:  &domain.JobError{Kind: domain.ErrorKindTimeout, Message: "evaluation exceeded 10m0s"},
	}

	require.NoError(t, newTestNotifier(pub).NotifyTerminal(context.Background(), job))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, RoutingKeyFailed, pub.messages[0].RoutingKey)

	var ev JobEvent
	require.NoError(t, json.Unmarshal(pub.messages[0].Body, &ev))
	assert.Equal(t, "TIMEOUT", ev.ErrorKind)
	assert.Equal(t, "evaluation exceeded 10m0s", ev.ErrorMessage)
	assert.Empty(t, ev.Decision)
}

func TestNotifyTerminal_SkipsActiveJobs(t *testing.T) {
	pub := &fakePublisher{}
	job := domain.Job{ID: "job-3", Status: domain.JobStatusRunning}

	require.NoError(t, newTestNotifier(pub).NotifyTerminal(context.Background(), job))
	assert.Empty(t, pub.messages)
}

func TestNotifyTerminal_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	job := domain.Job{ID: "job-4", Status: domain.JobStatusFailed, Error: &domain.JobError{Kind: domain.ErrorKindPipeline, Message: "x"}}

	err := newTestNotifier(pub).NotifyTerminal(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}
