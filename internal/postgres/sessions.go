package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stitchflow/stitchflow/internal/domain"
)

const sessionColumns = `id, task_id, worker_id, start_time, end_time,
	completed_quantity, notes, is_active, created_at`

func scanSession(row interface {
	Scan(...any) error
}) (*domain.WorkSession, error) {
	var s domain.WorkSession
	err := row.Scan(
		&s.ID, &s.TaskID, &s.WorkerID, &s.StartTime, &s.EndTime,
		&s.CompletedQuantity, &s.Notes, &s.IsActive, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSession writes a new session and returns its generated ID.
//
// A partial unique index on (worker_id) WHERE is_active backs the
// one-open-session-per-worker invariant at the storage layer, so two
// concurrent inserts cannot both succeed; the loser gets a ConflictError.
func (s *store) InsertSession(ctx context.Context, session *domain.WorkSession) (int64, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO work_sessions
			(task_id, worker_id, start_time, end_time, completed_quantity, notes, is_active, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		session.TaskID, session.WorkerID, session.StartTime, session.EndTime,
		session.CompletedQuantity, session.Notes, session.IsActive, session.CreatedAt,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, &domain.ConflictError{
				Resource: "session",
				Reason:   fmt.Sprintf("worker %s already has an open session", session.WorkerID),
			}
		}
		return 0, fmt.Errorf("insert session for worker %s: %w", session.WorkerID, err)
	}
	session.ID = id
	return id, nil
}

func (s *store) UpdateSession(ctx context.Context, session *domain.WorkSession) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE work_sessions
		SET end_time = $1, completed_quantity = $2, notes = $3, is_active = $4
		WHERE id = $5
	`,
		session.EndTime, session.CompletedQuantity, session.Notes, session.IsActive, session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session %d: %w", session.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "session", ID: fmt.Sprintf("%d", session.ID)}
	}
	return nil
}

func (s *store) ActiveSessionByWorker(ctx context.Context, workerID string) (*domain.WorkSession, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions
		WHERE worker_id = $1 AND is_active
	`, workerID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active session for worker %s: %w", workerID, err)
	}
	return session, nil
}

func (s *store) SessionsByWorkerBetween(ctx context.Context, workerID string, from, to time.Time) ([]*domain.WorkSession, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions
		WHERE worker_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		ORDER BY start_time
	`, workerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("sessions for worker %s: %w", workerID, err)
	}
	return collectSessions(rows)
}

func (s *store) OrphanActiveSessions(ctx context.Context) ([]*domain.WorkSession, error) {
	rows, err := s.q.Query(ctx, `
		SELECT s.id, s.task_id, s.worker_id, s.start_time, s.end_time,
		       s.completed_quantity, s.notes, s.is_active, s.created_at
		FROM work_sessions s
		JOIN work_tasks t ON t.id = s.task_id
		WHERE s.is_active AND t.status = $1
	`, string(domain.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("orphan active sessions: %w", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]*domain.WorkSession, error) {
	defer rows.Close()
	var sessions []*domain.WorkSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
