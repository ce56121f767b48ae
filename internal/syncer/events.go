// Package syncer reconciles local state with the remote ERP: it pulls the
// authoritative catalog, roster and task list, and pushes local completion
// events upstream through a Kafka-backed relay.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/kafka"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
)

// TopicCompletions carries completion events from the gateway to the relay.
const TopicCompletions = "production.completions"

// CompletionEvent is the message body published when a task completes
// locally. The relay turns it into a POST against the ERP.
type CompletionEvent struct {
	EventID           string    `json:"event_id"`
	TaskID            string    `json:"task_id"`
	WorkerID          string    `json:"worker_id"`
	CompletedQuantity int       `json:"completed_quantity"`
	CompletedAt       time.Time `json:"completed_at"`
	Notes             string    `json:"notes,omitempty"`
}

// Publisher enqueues completion events. It implements
// lifecycle.CompletionNotifier and is strictly best-effort: the local ledger
// already records the work, so a failed enqueue is logged and counted, never
// surfaced to the worker on the floor.
type Publisher struct {
	producer kafka.Producer
	logger   *slog.Logger
}

// NewPublisher creates a Publisher on top of a Kafka producer.
func NewPublisher(producer kafka.Producer, logger *slog.Logger) *Publisher {
	return &Publisher{producer: producer, logger: logger}
}

// TaskCompleted publishes a CompletionEvent for the task. Keyed by task ID so
// repeated completions of one task stay ordered.
func (p *Publisher) TaskCompleted(ctx context.Context, task *domain.Task) {
	if task.WorkerID == nil || task.CompletedAt == nil {
		p.logger.Error("completion event dropped: task missing worker or completion time",
			slog.String("task_id", task.ID),
		)
		return
	}

	event := CompletionEvent{
		EventID:           uuid.New().String(),
		TaskID:            task.ID,
		WorkerID:          *task.WorkerID,
		CompletedQuantity: task.CompletedQuantity,
		CompletedAt:       *task.CompletedAt,
		Notes:             task.Notes,
	}
	if err := p.producer.PublishJSON(ctx, TopicCompletions, task.ID, event); err != nil {
		telemetry.CompletionPushes.WithLabelValues("enqueue_error").Inc()
		p.logger.Error("failed to enqueue completion event",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Info("completion event enqueued",
		slog.String("task_id", task.ID),
		slog.String("event_id", event.EventID),
		slog.Int("completed_quantity", event.CompletedQuantity),
	)
}
