package domain

import "time"

// WorkSession is a time-bounded record of a worker actively working a task.
// A nil EndTime means the session is still open; at most one open session
// may exist per worker at any time.
type WorkSession struct {
	ID                int64      `json:"id"`
	TaskID            string     `json:"task_id"`
	WorkerID          string     `json:"worker_id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	CompletedQuantity int        `json:"completed_quantity"`
	Notes             string     `json:"notes"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

// DurationMinutes returns the closed session's length in whole minutes.
// Undefined (zero, false) while the session is still open.
func (s *WorkSession) DurationMinutes() (int64, bool) {
	if s.EndTime == nil {
		return 0, false
	}
	return int64(s.EndTime.Sub(s.StartTime) / time.Minute), true
}

// WorkerDayStats is a derived aggregate for one worker on one calendar day.
// It is recomputed on demand from tasks and sessions and never persisted,
// so it always reflects the store at call time.
type WorkerDayStats struct {
	Date                 time.Time `json:"date"`
	TotalQuantity        int       `json:"total_quantity"`
	TotalWorkTimeMinutes int64     `json:"total_work_time_minutes"`
	TotalEarnings        float64   `json:"total_earnings"`
	CompletedTasksCount  int       `json:"completed_tasks_count"`
	SessionsCount        int       `json:"sessions_count"`
}
