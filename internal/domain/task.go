package domain

import "time"

// Status represents the lifecycle states of a production task.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusAssigned   Status = "ASSIGNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Known reports whether s is one of the defined lifecycle states.
func (s Status) Known() bool {
	switch s {
	case StatusCreated, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Protected returns true when a local copy of the task must not be replaced
// by a remote snapshot: the task carries local progress that may not have
// been pushed upstream yet.
func (s Status) Protected() bool {
	return s == StatusInProgress || s == StatusCompleted
}

// Task is a unit of assigned production work: so many pieces of one product,
// worked by one worker, tracked through a lifecycle.
//
// The ID is either assigned by the remote ERP or read off a scanned code.
// CompletedQuantity is cumulative and never decreases.
type Task struct {
	ID                string     `json:"id"`
	ProductID         string     `json:"product_id"`
	WorkerID          *string    `json:"worker_id,omitempty"`
	Quantity          int        `json:"quantity"`
	CompletedQuantity int        `json:"completed_quantity"`
	Status            Status     `json:"status"`
	Priority          int        `json:"priority"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Notes             string     `json:"notes"`
}

// AssignedTo reports whether the task is assigned to the given worker.
func (t *Task) AssignedTo(workerID string) bool {
	return t.WorkerID != nil && *t.WorkerID == workerID
}
