// Package storetest provides an in-memory postgres.Store used by unit tests
// across the lifecycle, session, stats and sync packages.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/postgres"
)

// MemStore implements postgres.Store over plain maps. Transactions are
// serialized by a single mutex and rolled back by restoring a snapshot, which
// is enough to exercise the managers' invariant logic; the real atomicity
// guarantees live in SQL and are covered by the integration tests.
type MemStore struct {
	mu       sync.Mutex
	products map[string]domain.Product
	workers  map[string]domain.Worker
	tasks    map[string]domain.Task
	sessions map[int64]domain.WorkSession
	nextID   int64

	// FailInsertSession forces the next InsertSession call to fail, for
	// testing all-or-nothing task transitions.
	FailInsertSession error
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: make(map[string]domain.Product),
		workers:  make(map[string]domain.Worker),
		tasks:    make(map[string]domain.Task),
		sessions: make(map[int64]domain.WorkSession),
		nextID:   1,
	}
}

// txView joins the transaction opened by MemStore.InTx: its InTx runs fn
// directly instead of re-locking.
type txView struct{ m *MemStore }

func (m *MemStore) snapshot() (map[string]domain.Product, map[string]domain.Worker, map[string]domain.Task, map[int64]domain.WorkSession, int64) {
	p := make(map[string]domain.Product, len(m.products))
	for k, v := range m.products {
		p[k] = v
	}
	w := make(map[string]domain.Worker, len(m.workers))
	for k, v := range m.workers {
		w[k] = v
	}
	t := make(map[string]domain.Task, len(m.tasks))
	for k, v := range m.tasks {
		t[k] = v
	}
	s := make(map[int64]domain.WorkSession, len(m.sessions))
	for k, v := range m.sessions {
		s[k] = v
	}
	return p, w, t, s, m.nextID
}

func (m *MemStore) InTx(_ context.Context, fn func(postgres.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, w, t, s, id := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.products, m.workers, m.tasks, m.sessions, m.nextID = p, w, t, s, id
		return err
	}
	return nil
}

func (v *txView) InTx(_ context.Context, fn func(postgres.Store) error) error { return fn(v) }

// ── products / workers ───────────────────────────────────────────────────────

func (m *MemStore) getProduct(id string) (*domain.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "product", ID: id}
	}
	return &p, nil
}

func (m *MemStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getProduct(id)
}

func (m *MemStore) ListActiveProducts(_ context.Context) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Product
	for _, p := range m.products {
		if p.IsActive {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemStore) UpsertProducts(_ context.Context, products []*domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range products {
		m.products[p.ID] = *p
	}
	return nil
}

func (m *MemStore) GetWorker(_ context.Context, id string) (*domain.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "worker", ID: id}
	}
	return &w, nil
}

func (m *MemStore) ListActiveWorkers(_ context.Context) ([]*domain.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Worker
	for _, w := range m.workers {
		if w.IsActive {
			w := w
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpsertWorkers(_ context.Context, workers []*domain.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range workers {
		m.workers[w.ID] = *w
	}
	return nil
}

// ── tasks ────────────────────────────────────────────────────────────────────

func (m *MemStore) getTask(id string) (*domain.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "task", ID: id}
	}
	return &t, nil
}

func (m *MemStore) GetTask(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getTask(id)
}

// GetTaskForUpdate behaves like GetTask; the mutex already serializes whole
// transactions, so there is no finer-grained row lock to take.
func (m *MemStore) GetTaskForUpdate(ctx context.Context, id string) (*domain.Task, error) {
	return m.GetTask(ctx, id)
}

func (m *MemStore) ListTasksByWorker(_ context.Context, workerID string) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.WorkerID != nil && *t.WorkerID == workerID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) ListTasksByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.Status == status {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) CompletedTasksByWorkerBetween(_ context.Context, workerID string, from, to time.Time) ([]*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.Status != domain.StatusCompleted || t.WorkerID == nil || *t.WorkerID != workerID {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.Before(from) || !t.CompletedAt.Before(to) {
			continue
		}
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) UpsertTask(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	return nil
}

func (m *MemStore) UpdateTaskGuarded(_ context.Context, task *domain.Task, expectedUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[task.ID]
	if !ok {
		return &domain.NotFoundError{Kind: "task", ID: task.ID}
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return &domain.ConflictError{Resource: "task " + task.ID, Reason: "row changed since it was read"}
	}
	m.tasks[task.ID] = *task
	return nil
}

// ── sessions ─────────────────────────────────────────────────────────────────

func (m *MemStore) InsertSession(_ context.Context, session *domain.WorkSession) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsertSession != nil {
		err := m.FailInsertSession
		m.FailInsertSession = nil
		return 0, err
	}
	if session.IsActive {
		for _, s := range m.sessions {
			if s.WorkerID == session.WorkerID && s.IsActive {
				return 0, &domain.ConflictError{
					Resource: "session",
					Reason:   fmt.Sprintf("worker %s already has an open session", session.WorkerID),
				}
			}
		}
	}
	id := m.nextID
	m.nextID++
	session.ID = id
	m.sessions[id] = *session
	return id, nil
}

func (m *MemStore) UpdateSession(_ context.Context, session *domain.WorkSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return &domain.NotFoundError{Kind: "session", ID: fmt.Sprintf("%d", session.ID)}
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemStore) ActiveSessionByWorker(_ context.Context, workerID string) (*domain.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.WorkerID == workerID && s.IsActive {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemStore) SessionsByWorkerBetween(_ context.Context, workerID string, from, to time.Time) ([]*domain.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.WorkSession
	for _, s := range m.sessions {
		if s.WorkerID != workerID || s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) OrphanActiveSessions(_ context.Context) ([]*domain.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.WorkSession
	for _, s := range m.sessions {
		if !s.IsActive {
			continue
		}
		if t, ok := m.tasks[s.TaskID]; ok && t.Status == domain.StatusCompleted {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Session returns a copy of the stored session, for assertions.
func (m *MemStore) Session(id int64) (domain.WorkSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// txView delegates everything to the underlying MemStore methods that do not
// take the outer lock (the tx already holds it). The delegation goes through
// unexported variants where the lock matters.

func (v *txView) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	return v.m.getProduct(id)
}

func (v *txView) ListActiveProducts(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	for _, p := range v.m.products {
		if p.IsActive {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v *txView) UpsertProducts(_ context.Context, products []*domain.Product) error {
	for _, p := range products {
		v.m.products[p.ID] = *p
	}
	return nil
}

func (v *txView) GetWorker(_ context.Context, id string) (*domain.Worker, error) {
	w, ok := v.m.workers[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "worker", ID: id}
	}
	return &w, nil
}

func (v *txView) ListActiveWorkers(_ context.Context) ([]*domain.Worker, error) {
	var out []*domain.Worker
	for _, w := range v.m.workers {
		if w.IsActive {
			w := w
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) UpsertWorkers(_ context.Context, workers []*domain.Worker) error {
	for _, w := range workers {
		v.m.workers[w.ID] = *w
	}
	return nil
}

func (v *txView) GetTask(_ context.Context, id string) (*domain.Task, error) {
	return v.m.getTask(id)
}

func (v *txView) GetTaskForUpdate(_ context.Context, id string) (*domain.Task, error) {
	return v.m.getTask(id)
}

func (v *txView) ListTasksByWorker(_ context.Context, workerID string) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, t := range v.m.tasks {
		if t.WorkerID != nil && *t.WorkerID == workerID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) ListTasksByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, t := range v.m.tasks {
		if t.Status == status {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *txView) CompletedTasksByWorkerBetween(_ context.Context, workerID string, from, to time.Time) ([]*domain.Task, error) {
	var out []*domain.Task
	for _, t := range v.m.tasks {
		if t.Status != domain.StatusCompleted || t.WorkerID == nil || *t.WorkerID != workerID {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.Before(from) || !t.CompletedAt.Before(to) {
			continue
		}
		t := t
		out = append(out, &t)
	}
	return out, nil
}

func (v *txView) UpsertTask(_ context.Context, task *domain.Task) error {
	v.m.tasks[task.ID] = *task
	return nil
}

func (v *txView) UpdateTaskGuarded(_ context.Context, task *domain.Task, expectedUpdatedAt time.Time) error {
	stored, ok := v.m.tasks[task.ID]
	if !ok {
		return &domain.NotFoundError{Kind: "task", ID: task.ID}
	}
	if !stored.UpdatedAt.Equal(expectedUpdatedAt) {
		return &domain.ConflictError{Resource: "task " + task.ID, Reason: "row changed since it was read"}
	}
	v.m.tasks[task.ID] = *task
	return nil
}

func (v *txView) InsertSession(_ context.Context, session *domain.WorkSession) (int64, error) {
	if v.m.FailInsertSession != nil {
		err := v.m.FailInsertSession
		v.m.FailInsertSession = nil
		return 0, err
	}
	if session.IsActive {
		for _, s := range v.m.sessions {
			if s.WorkerID == session.WorkerID && s.IsActive {
				return 0, &domain.ConflictError{
					Resource: "session",
					Reason:   fmt.Sprintf("worker %s already has an open session", session.WorkerID),
				}
			}
		}
	}
	id := v.m.nextID
	v.m.nextID++
	session.ID = id
	v.m.sessions[id] = *session
	return id, nil
}

func (v *txView) UpdateSession(_ context.Context, session *domain.WorkSession) error {
	if _, ok := v.m.sessions[session.ID]; !ok {
		return &domain.NotFoundError{Kind: "session", ID: fmt.Sprintf("%d", session.ID)}
	}
	v.m.sessions[session.ID] = *session
	return nil
}

func (v *txView) ActiveSessionByWorker(_ context.Context, workerID string) (*domain.WorkSession, error) {
	for _, s := range v.m.sessions {
		if s.WorkerID == workerID && s.IsActive {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (v *txView) SessionsByWorkerBetween(_ context.Context, workerID string, from, to time.Time) ([]*domain.WorkSession, error) {
	var out []*domain.WorkSession
	for _, s := range v.m.sessions {
		if s.WorkerID != workerID || s.StartTime.Before(from) || !s.StartTime.Before(to) {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *txView) OrphanActiveSessions(_ context.Context) ([]*domain.WorkSession, error) {
	var out []*domain.WorkSession
	for _, s := range v.m.sessions {
		if !s.IsActive {
			continue
		}
		if t, ok := v.m.tasks[s.TaskID]; ok && t.Status == domain.StatusCompleted {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var (
	_ postgres.Store = (*MemStore)(nil)
	_ postgres.Store = (*txView)(nil)
)
