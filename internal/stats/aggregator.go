// Package stats derives per-worker daily summaries from session and task
// records. Nothing here is persisted; every call replays the store.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/postgres"
)

// Aggregator computes WorkerDayStats on demand.
type Aggregator struct {
	store  postgres.Store
	loc    *time.Location
	logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLocation sets the timezone whose midnight bounds a calendar day.
func WithLocation(loc *time.Location) Option { return func(a *Aggregator) { a.loc = loc } }
func WithLogger(l *slog.Logger) Option       { return func(a *Aggregator) { a.logger = l } }

// NewAggregator constructs an Aggregator. Days default to the local timezone.
func NewAggregator(store postgres.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:  store,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location returns the timezone whose midnight bounds a calendar day. Callers
// turning a plain calendar date into a time.Time must parse it in this
// location, or the instant can land on the neighbouring day.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// ComputeDayStats aggregates the worker's sessions and completed tasks for
// the calendar day containing date, bounded [00:00, 24:00) in the
// aggregator's timezone.
//
// Sessions still open contribute their quantity but zero minutes. A session
// whose task or product cannot be resolved contributes zero earnings and is
// not an error: referential data may lag behind during sync.
func (a *Aggregator) ComputeDayStats(ctx context.Context, workerID string, date time.Time) (*domain.WorkerDayStats, error) {
	local := date.In(a.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	sessions, err := a.store.SessionsByWorkerBetween(ctx, workerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	completed, err := a.store.CompletedTasksByWorkerBetween(ctx, workerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	out := &domain.WorkerDayStats{
		Date:                dayStart,
		CompletedTasksCount: len(completed),
		SessionsCount:       len(sessions),
	}

	taskCache := make(map[string]*domain.Task)
	productCache := make(map[string]*domain.Product)

	for _, sess := range sessions {
		out.TotalQuantity += sess.CompletedQuantity
		if minutes, ok := sess.DurationMinutes(); ok {
			out.TotalWorkTimeMinutes += minutes
		}
		out.TotalEarnings += a.sessionEarnings(ctx, sess, taskCache, productCache)
	}
	return out, nil
}

func (a *Aggregator) sessionEarnings(
	ctx context.Context,
	sess *domain.WorkSession,
	taskCache map[string]*domain.Task,
	productCache map[string]*domain.Product,
) float64 {
	if sess.CompletedQuantity == 0 {
		return 0
	}

	task, ok := taskCache[sess.TaskID]
	if !ok {
		var err error
		task, err = a.store.GetTask(ctx, sess.TaskID)
		if err != nil {
			a.logger.Debug("session task unresolved, contributes zero earnings",
				slog.Int64("session_id", sess.ID),
				slog.String("task_id", sess.TaskID),
			)
			task = nil
		}
		taskCache[sess.TaskID] = task
	}
	if task == nil {
		return 0
	}

	product, ok := productCache[task.ProductID]
	if !ok {
		var err error
		product, err = a.store.GetProduct(ctx, task.ProductID)
		if err != nil {
			a.logger.Debug("session product unresolved, contributes zero earnings",
				slog.Int64("session_id", sess.ID),
				slog.String("product_id", task.ProductID),
			)
			product = nil
		}
		productCache[task.ProductID] = product
	}
	if product == nil {
		return 0
	}

	return product.Price * float64(sess.CompletedQuantity)
}
