package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stitchflow/stitchflow/internal/domain"
)

const taskColumns = `id, product_id, worker_id, quantity, completed_quantity, status,
	priority, deadline, started_at, completed_at, created_at, updated_at, notes`

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var t domain.Task
	var statusStr string
	err := row.Scan(
		&t.ID, &t.ProductID, &t.WorkerID, &t.Quantity, &t.CompletedQuantity, &statusStr,
		&t.Priority, &t.Deadline, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt, &t.Notes,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.Status(statusStr)
	return &t, nil
}

func (s *store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.getTask(ctx, id, "")
}

func (s *store) GetTaskForUpdate(ctx context.Context, id string) (*domain.Task, error) {
	return s.getTask(ctx, id, "FOR UPDATE")
}

func (s *store) getTask(ctx context.Context, id, locking string) (*domain.Task, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM work_tasks
		WHERE id = $1
	`+locking, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "task", ID: id}
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

func (s *store) ListTasksByWorker(ctx context.Context, workerID string) ([]*domain.Task, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+taskColumns+`
		FROM work_tasks
		WHERE worker_id = $1
		ORDER BY priority DESC, created_at
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for worker %s: %w", workerID, err)
	}
	return collectTasks(rows)
}

func (s *store) ListTasksByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Task, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+taskColumns+`
		FROM work_tasks
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	return collectTasks(rows)
}

func (s *store) CompletedTasksByWorkerBetween(ctx context.Context, workerID string, from, to time.Time) ([]*domain.Task, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+taskColumns+`
		FROM work_tasks
		WHERE worker_id = $1
		  AND status = $2
		  AND completed_at >= $3
		  AND completed_at < $4
		ORDER BY completed_at
	`, workerID, string(domain.StatusCompleted), from, to)
	if err != nil {
		return nil, fmt.Errorf("completed tasks for worker %s: %w", workerID, err)
	}
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *store) UpsertTask(ctx context.Context, task *domain.Task) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO work_tasks
			(`+taskColumns+`)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			worker_id = EXCLUDED.worker_id,
			quantity = EXCLUDED.quantity,
			completed_quantity = EXCLUDED.completed_quantity,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			deadline = EXCLUDED.deadline,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at,
			notes = EXCLUDED.notes
	`,
		task.ID, task.ProductID, task.WorkerID, task.Quantity, task.CompletedQuantity,
		string(task.Status), task.Priority, task.Deadline, task.StartedAt,
		task.CompletedAt, task.CreatedAt, task.UpdatedAt, task.Notes,
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *store) UpdateTaskGuarded(ctx context.Context, task *domain.Task, expectedUpdatedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE work_tasks
		SET product_id = $1, worker_id = $2, quantity = $3, completed_quantity = $4,
		    status = $5, priority = $6, deadline = $7, started_at = $8,
		    completed_at = $9, updated_at = $10, notes = $11
		WHERE id = $12 AND updated_at = $13
	`,
		task.ProductID, task.WorkerID, task.Quantity, task.CompletedQuantity,
		string(task.Status), task.Priority, task.Deadline, task.StartedAt,
		task.CompletedAt, task.UpdatedAt, task.Notes,
		task.ID, expectedUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("guarded update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale guard from a missing row.
		if _, getErr := s.GetTask(ctx, task.ID); getErr != nil {
			return getErr
		}
		return &domain.ConflictError{
			Resource: "task " + task.ID,
			Reason:   "row changed since it was read",
		}
	}
	return nil
}
