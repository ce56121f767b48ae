package domain

import "fmt"

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	Kind string // "task", "worker", "product", "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InvalidTransitionError is returned when an operation violates the task
// state machine.
type InvalidTransitionError struct {
	TaskID string
	From   Status
	Op     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s task %s in status %s", e.Op, e.TaskID, e.From)
}

// InvalidArgumentError is returned for bad input values, e.g. a non-positive
// completion quantity or a cumulative quantity below the stored value.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError is returned when a concurrency invariant would be violated:
// a second open session for the same worker, or a write against a stale
// version of a row.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

// RemoteUnavailableError is returned when a call to the remote ERP fails or
// times out. Always retryable, never fatal to local state.
type RemoteUnavailableError struct {
	Op  string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote %s unavailable: %v", e.Op, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }
