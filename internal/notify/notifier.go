package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/ai-recruiter/internal/domain"
	"github.com/cuongbtq/ai-recruiter/shared/rabbitmq"
)

// Routing keys of lifecycle messages
const (
	RoutingKeyCompleted = "job.completed"
	RoutingKeyFailed    = "job.failed"
)

// Publisher sends one message to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// JobEvent is the JSON body published for every finished job
type JobEvent struct {
	EventType    string    `json:"event_type"`
	JobID        string    `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	Decision     string    `json:"decision,omitempty"`
	ReportRef    string    `json:"report_ref,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// RabbitNotifier publishes terminal job events to RabbitMQ
type RabbitNotifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewRabbitNotifier creates a notifier on top of publisher
func NewRabbitNotifier(publisher Publisher, logger *slog.Logger) *RabbitNotifier {
	return &RabbitNotifier{publisher: publisher, logger: logger}
}

// NotifyTerminal publishes job if it is terminal and ignores it otherwise
func (n *RabbitNotifier) NotifyTerminal(ctx context.Context, job domain.Job) error {
	if !job.Status.IsTerminal() {
		return nil
	}

	ev, routingKey := newJobEvent(job)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	err = n.publisher.PublishWithRetry(ctx, rabbitmq.Message{
		RoutingKey:  routingKey,
		MessageID:   job.ID,
		Type:        ev.EventType,
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.EventType, err)
	}

	n.logger.Debug("Job event published",
		slog.String("job_id", job.ID),
		slog.String("routing_key", routingKey),
	)
	return nil
}

func newJobEvent(job domain.Job) (JobEvent, string) {
	ev := JobEvent{
		JobID:      job.ID,
		UserID:     job.Owner,
		Status:     string(job.Status),
		Progress:   job.Progress,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.UpdatedAt,
	}

	if job.Status == domain.JobStatusCompleted {
		ev.EventType = RoutingKeyCompleted
		if job.Result != nil {
			ev.Decision = job.Result.Decision
			ev.ReportRef = job.Result.ReportRef
		}
		return ev, RoutingKeyCompleted
	}

	ev.EventType = RoutingKeyFailed
	if job.Error != nil {
		ev.ErrorKind = string(job.Error.Kind)
		ev.ErrorMessage = job.Error.Message
	}
	return ev, RoutingKeyFailed
}
