// Package lifecycle owns the task state machine:
//
//	CREATED → ASSIGNED → IN_PROGRESS → COMPLETED
//
// with CANCELLED reachable from any non-terminal state. Every transition is
// validated and committed atomically together with its session side effects.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/postgres"
	"github.com/stitchflow/stitchflow/internal/session"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
)

// CompletionNotifier is told about tasks that reached COMPLETED, after the
// local transaction has committed. Implementations must be best-effort: the
// local ledger is authoritative and a failed notification never rolls back
// local state.
type CompletionNotifier interface {
	TaskCompleted(ctx context.Context, task *domain.Task)
}

// Manager drives task lifecycle transitions against the store.
type Manager struct {
	store    postgres.Store
	sessions *session.Tracker
	notifier CompletionNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

func WithNotifier(n CompletionNotifier) Option { return func(m *Manager) { m.notifier = n } }
func WithLogger(l *slog.Logger) Option         { return func(m *Manager) { m.logger = l } }
func WithNow(now func() time.Time) Option      { return func(m *Manager) { m.now = now } }

// NewManager constructs a Manager.
func NewManager(store postgres.Store, sessions *session.Tracker, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		sessions: sessions,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new task in CREATED status. Tasks normally arrive via sync
// or scan resolution; Create also backs direct creation from the gateway.
func (m *Manager) Create(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		return &domain.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}
	if task.Quantity <= 0 {
		return &domain.InvalidArgumentError{Field: "quantity", Reason: "must be positive"}
	}
	if task.ProductID == "" {
		return &domain.InvalidArgumentError{Field: "productId", Reason: "must not be empty"}
	}

	now := m.now()
	task.Status = domain.StatusCreated
	task.CompletedQuantity = 0
	task.WorkerID = nil
	task.StartedAt = nil
	task.CompletedAt = nil
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if err := m.store.UpsertTask(ctx, task); err != nil {
		return err
	}
	telemetry.TaskTransitions.WithLabelValues("create", string(domain.StatusCreated)).Inc()
	return nil
}

// Assign claims a CREATED task for a worker.
func (m *Manager) Assign(ctx context.Context, taskID, workerID string) (*domain.Task, error) {
	var out *domain.Task
	err := m.store.InTx(ctx, func(s postgres.Store) error {
		task, err := s.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if _, err := s.GetWorker(ctx, workerID); err != nil {
			return err
		}
		if task.Status != domain.StatusCreated {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "assign"}
		}

		task.WorkerID = &workerID
		task.Status = domain.StatusAssigned
		task.UpdatedAt = m.now()
		if err := s.UpsertTask(ctx, task); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.TaskTransitions.WithLabelValues("assign", string(domain.StatusAssigned)).Inc()
	m.logger.Info("task assigned",
		slog.String("task_id", taskID),
		slog.String("worker_id", workerID),
	)
	return out, nil
}

// Start moves an ASSIGNED task to IN_PROGRESS and opens a work session for
// its worker. The task write and the session insert commit together: if the
// session cannot be opened, the task stays ASSIGNED.
func (m *Manager) Start(ctx context.Context, taskID, workerID string) (*domain.Task, *domain.WorkSession, error) {
	ctx, span := otel.Tracer("lifecycle").Start(ctx, "lifecycle.start")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("worker.id", workerID),
	)

	var (
		outTask *domain.Task
		outSess *domain.WorkSession
	)
	err := m.store.InTx(ctx, func(s postgres.Store) error {
		task, err := s.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.StatusAssigned {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "start"}
		}
		if !task.AssignedTo(workerID) {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "start by unassigned worker"}
		}

		now := m.now()
		task.Status = domain.StatusInProgress
		task.StartedAt = &now
		task.UpdatedAt = now
		if err := s.UpsertTask(ctx, task); err != nil {
			return err
		}

		sess, err := m.sessions.OpenIn(ctx, s, taskID, workerID)
		if err != nil {
			return err
		}
		outTask, outSess = task, sess
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		return nil, nil, err
	}

	telemetry.TaskTransitions.WithLabelValues("start", string(domain.StatusInProgress)).Inc()
	m.logger.Info("task started",
		slog.String("task_id", taskID),
		slog.String("worker_id", workerID),
		slog.Int64("session_id", outSess.ID),
	)
	return outTask, outSess, nil
}

// Resume opens a fresh session on an IN_PROGRESS task whose worker has no
// open session, e.g. after a partial completion earlier the same day.
func (m *Manager) Resume(ctx context.Context, taskID, workerID string) (*domain.WorkSession, error) {
	var out *domain.WorkSession
	err := m.store.InTx(ctx, func(s postgres.Store) error {
		task, err := s.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.StatusInProgress {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "resume"}
		}
		if !task.AssignedTo(workerID) {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "resume by unassigned worker"}
		}

		sess, err := m.sessions.OpenIn(ctx, s, taskID, workerID)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.TaskTransitions.WithLabelValues("resume", string(domain.StatusInProgress)).Inc()
	return out, nil
}

// RecordCompletion records the cumulative completed quantity for an
// IN_PROGRESS task. Values at or above the stored quantity and at or below
// the target are accepted; anything else is an InvalidArgumentError, which
// keeps CompletedQuantity monotonically non-decreasing.
//
// The worker's open session is closed in the same transaction, stamped with
// the delta this call added. Reaching the target moves the task to COMPLETED,
// sets CompletedAt and fires the completion notifier after commit.
func (m *Manager) RecordCompletion(ctx context.Context, taskID string, completedQuantity int) (*domain.Task, error) {
	ctx, span := otel.Tracer("lifecycle").Start(ctx, "lifecycle.record_completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("completed_quantity", completedQuantity),
	)

	if completedQuantity <= 0 {
		return nil, &domain.InvalidArgumentError{
			Field:  "completedQuantity",
			Reason: "must be positive",
		}
	}

	var out *domain.Task
	err := m.store.InTx(ctx, func(s postgres.Store) error {
		task, err := s.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.StatusInProgress {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "complete"}
		}
		if completedQuantity < task.CompletedQuantity {
			return &domain.InvalidArgumentError{
				Field: "completedQuantity",
				Reason: fmt.Sprintf("cumulative value %d is below stored value %d",
					completedQuantity, task.CompletedQuantity),
			}
		}
		if completedQuantity > task.Quantity {
			return &domain.InvalidArgumentError{
				Field: "completedQuantity",
				Reason: fmt.Sprintf("value %d exceeds target quantity %d",
					completedQuantity, task.Quantity),
			}
		}

		now := m.now()
		delta := completedQuantity - task.CompletedQuantity
		task.CompletedQuantity = completedQuantity
		task.UpdatedAt = now
		if completedQuantity >= task.Quantity {
			task.Status = domain.StatusCompleted
			task.CompletedAt = &now
		}
		if err := s.UpsertTask(ctx, task); err != nil {
			return err
		}

		// Close the worker's open session, stamping what this call added.
		// A missing session is tolerated: repeated partial completions have
		// already closed it.
		if task.WorkerID != nil {
			active, err := s.ActiveSessionByWorker(ctx, *task.WorkerID)
			if err != nil {
				return err
			}
			if active != nil && active.TaskID == task.ID {
				if _, err := m.sessions.CloseIn(ctx, s, *task.WorkerID, delta); err != nil {
					return err
				}
			}
		}
		out = task
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record completion failed")
		return nil, err
	}

	telemetry.TaskTransitions.WithLabelValues("complete", string(out.Status)).Inc()
	if out.Status == domain.StatusCompleted {
		telemetry.TasksCompleted.Inc()
		m.logger.Info("task completed",
			slog.String("task_id", taskID),
			slog.Int("completed_quantity", out.CompletedQuantity),
		)
		if m.notifier != nil {
			// Detached from the request context: the push must not be
			// cancelled by the caller going away.
			go m.notifier.TaskCompleted(context.WithoutCancel(ctx), out)
		}
	}
	return out, nil
}

// Cancel moves a non-terminal task to CANCELLED. Historical session records
// keep their quantities; a still-open session on the task is closed with
// zero additional quantity so the worker's slot is freed.
func (m *Manager) Cancel(ctx context.Context, taskID string) (*domain.Task, error) {
	var out *domain.Task
	err := m.store.InTx(ctx, func(s postgres.Store) error {
		task, err := s.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return &domain.InvalidTransitionError{TaskID: taskID, From: task.Status, Op: "cancel"}
		}

		if task.WorkerID != nil {
			active, err := s.ActiveSessionByWorker(ctx, *task.WorkerID)
			if err != nil {
				return err
			}
			if active != nil && active.TaskID == task.ID {
				if _, err := m.sessions.CloseIn(ctx, s, *task.WorkerID, 0); err != nil {
					return err
				}
			}
		}

		task.Status = domain.StatusCancelled
		task.UpdatedAt = m.now()
		if err := s.UpsertTask(ctx, task); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	telemetry.TaskTransitions.WithLabelValues("cancel", string(domain.StatusCancelled)).Inc()
	m.logger.Info("task cancelled", slog.String("task_id", taskID))
	return out, nil
}

// RecoverOrphanSessions force-closes sessions left active by a crash between
// a task completing and its session closing. The session end time is backdated
// to the task's completion time. Run once on service startup.
func (m *Manager) RecoverOrphanSessions(ctx context.Context) (int, error) {
	orphans, err := m.store.OrphanActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, sess := range orphans {
		task, err := m.store.GetTask(ctx, sess.TaskID)
		if err != nil {
			m.logger.Error("orphan session references unknown task",
				slog.Int64("session_id", sess.ID),
				slog.String("task_id", sess.TaskID),
				slog.String("error", err.Error()),
			)
			continue
		}

		end := task.CompletedAt
		if end == nil {
			now := m.now()
			end = &now
		}
		sess.EndTime = end
		sess.IsActive = false
		if err := m.store.UpdateSession(ctx, sess); err != nil {
			return recovered, fmt.Errorf("recover session %d: %w", sess.ID, err)
		}

		recovered++
		telemetry.OrphanSessionsRecovered.Inc()
		m.logger.Warn("force-closed orphan session",
			slog.Int64("session_id", sess.ID),
			slog.String("task_id", sess.TaskID),
		)
	}
	return recovered, nil
}
