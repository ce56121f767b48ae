package syncer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/stitchflow/stitchflow/internal/kafka"
	"github.com/stitchflow/stitchflow/internal/onec"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
)

// CompletionSink is the upstream side of the relay.
type CompletionSink interface {
	CompleteTask(ctx context.Context, id string, completion onec.Completion) error
}

// Relay drains the completions topic into the ERP. Offsets commit only after
// the upstream accepts the push, so an ERP outage parks events on the topic
// instead of losing them.
type Relay struct {
	consumer kafka.Consumer
	sink     CompletionSink
	logger   *slog.Logger
}

// NewRelay constructs a Relay.
func NewRelay(consumer kafka.Consumer, sink CompletionSink, logger *slog.Logger) *Relay {
	return &Relay{consumer: consumer, sink: sink, logger: logger}
}

// Run consumes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.consumer.Subscribe(ctx, r.handle)
}

func (r *Relay) handle(ctx context.Context, msg kafka.Message) error {
	var event CompletionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// A malformed payload will never parse; commit past it.
		telemetry.CompletionPushes.WithLabelValues("malformed").Inc()
		r.logger.Error("discarding malformed completion event",
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		return nil
	}

	err := r.sink.CompleteTask(ctx, event.TaskID, onec.Completion{
		CompletedQuantity: event.CompletedQuantity,
		CompletedAt:       event.CompletedAt,
		WorkerID:          event.WorkerID,
		Notes:             event.Notes,
	})
	if err != nil {
		telemetry.CompletionPushes.WithLabelValues("error").Inc()
		r.logger.Error("completion push failed, will retry",
			slog.String("task_id", event.TaskID),
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return err
	}

	telemetry.CompletionPushes.WithLabelValues("ok").Inc()
	r.logger.Info("completion pushed upstream",
		slog.String("task_id", event.TaskID),
		slog.String("event_id", event.EventID),
	)
	return nil
}
