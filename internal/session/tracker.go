// Package session owns the opening and closing of work sessions and enforces
// the one-open-session-per-worker invariant.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/postgres"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
)

// Tracker opens and closes work sessions against the store.
type Tracker struct {
	store  postgres.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option    { return func(t *Tracker) { t.logger = l } }
func WithNow(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// NewTracker constructs a Tracker.
func NewTracker(store postgres.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open starts a new session for the worker on the given task.
// Fails with ConflictError if the worker already has an open session.
func (t *Tracker) Open(ctx context.Context, taskID, workerID string) (*domain.WorkSession, error) {
	var out *domain.WorkSession
	err := t.store.InTx(ctx, func(s postgres.Store) error {
		sess, err := t.OpenIn(ctx, s, taskID, workerID)
		out = sess
		return err
	})
	return out, err
}

// OpenIn is Open running inside a caller-supplied store scope, so the
// lifecycle manager can compose it into a larger transaction. The read of
// the current active session and the insert happen in one atomic unit; the
// storage-level unique index backs the check against concurrent opens.
func (t *Tracker) OpenIn(ctx context.Context, s postgres.Store, taskID, workerID string) (*domain.WorkSession, error) {
	active, err := s.ActiveSessionByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &domain.ConflictError{
			Resource: "session",
			Reason:   fmt.Sprintf("worker %s already has open session %d", workerID, active.ID),
		}
	}

	now := t.now()
	sess := &domain.WorkSession{
		TaskID:    taskID,
		WorkerID:  workerID,
		StartTime: now,
		IsActive:  true,
		CreatedAt: now,
	}
	if _, err := s.InsertSession(ctx, sess); err != nil {
		return nil, err
	}

	telemetry.SessionsOpened.Inc()
	t.logger.Info("session opened",
		slog.Int64("session_id", sess.ID),
		slog.String("task_id", taskID),
		slog.String("worker_id", workerID),
	)
	return sess, nil
}

// Close ends the worker's open session, stamping the quantity completed
// during it. Fails with NotFoundError when the worker has no open session.
func (t *Tracker) Close(ctx context.Context, workerID string, completedQuantity int) (*domain.WorkSession, error) {
	var out *domain.WorkSession
	err := t.store.InTx(ctx, func(s postgres.Store) error {
		sess, err := t.CloseIn(ctx, s, workerID, completedQuantity)
		out = sess
		return err
	})
	return out, err
}

// CloseIn is Close running inside a caller-supplied store scope.
func (t *Tracker) CloseIn(ctx context.Context, s postgres.Store, workerID string, completedQuantity int) (*domain.WorkSession, error) {
	if completedQuantity < 0 {
		return nil, &domain.InvalidArgumentError{
			Field:  "completedQuantity",
			Reason: "must not be negative",
		}
	}

	sess, err := s.ActiveSessionByWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, &domain.NotFoundError{Kind: "session", ID: "active for worker " + workerID}
	}

	end := t.now()
	sess.EndTime = &end
	sess.CompletedQuantity = completedQuantity
	sess.IsActive = false
	if err := s.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	telemetry.SessionsClosed.Inc()
	t.logger.Info("session closed",
		slog.Int64("session_id", sess.ID),
		slog.String("worker_id", workerID),
		slog.Int("completed_quantity", completedQuantity),
	)
	return sess, nil
}

// ActiveFor returns the worker's open session, or nil when there is none.
func (t *Tracker) ActiveFor(ctx context.Context, workerID string) (*domain.WorkSession, error) {
	return t.store.ActiveSessionByWorker(ctx, workerID)
}
