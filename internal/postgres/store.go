package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stitchflow/stitchflow/internal/domain"
)

// Store abstracts all database access for the production-tracking entities.
//
// InTx runs fn against a transactional view of the same store; every write
// inside fn commits atomically or not at all. Implementations must support
// nesting: calling InTx on an already-transactional store joins the open
// transaction.
type Store interface {
	InTx(ctx context.Context, fn func(Store) error) error

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListActiveProducts(ctx context.Context) ([]*domain.Product, error)
	UpsertProducts(ctx context.Context, products []*domain.Product) error

	GetWorker(ctx context.Context, id string) (*domain.Worker, error)
	ListActiveWorkers(ctx context.Context) ([]*domain.Worker, error)
	UpsertWorkers(ctx context.Context, workers []*domain.Worker) error

	GetTask(ctx context.Context, id string) (*domain.Task, error)
	// GetTaskForUpdate reads the task and locks its row until the surrounding
	// transaction ends. Lifecycle transitions read through this inside InTx so
	// two concurrent check-then-write sequences on the same task serialize
	// instead of both validating against the same stale snapshot.
	GetTaskForUpdate(ctx context.Context, id string) (*domain.Task, error)
	ListTasksByWorker(ctx context.Context, workerID string) ([]*domain.Task, error)
	ListTasksByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Task, error)
	CompletedTasksByWorkerBetween(ctx context.Context, workerID string, from, to time.Time) ([]*domain.Task, error)
	UpsertTask(ctx context.Context, task *domain.Task) error
	// UpdateTaskGuarded writes the task only if the stored row still carries
	// expectedUpdatedAt. Returns ConflictError on a stale expectation and
	// NotFoundError if the row is gone.
	UpdateTaskGuarded(ctx context.Context, task *domain.Task, expectedUpdatedAt time.Time) error

	InsertSession(ctx context.Context, session *domain.WorkSession) (int64, error)
	UpdateSession(ctx context.Context, session *domain.WorkSession) error
	// ActiveSessionByWorker returns (nil, nil) when the worker has no open session.
	ActiveSessionByWorker(ctx context.Context, workerID string) (*domain.WorkSession, error)
	SessionsByWorkerBetween(ctx context.Context, workerID string, from, to time.Time) ([]*domain.WorkSession, error)
	// OrphanActiveSessions returns sessions still marked active whose task has
	// already reached COMPLETED. Used by the startup recovery sweep.
	OrphanActiveSessions(ctx context.Context) ([]*domain.WorkSession, error)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type store struct {
	pool *pgxpool.Pool // nil when this store is a transactional view
	q    querier
}

// NewStore wraps a pgxpool with the Store interface.
func NewStore(pool *pgxpool.Pool) Store {
	return &store{pool: pool, q: pool}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

func (s *store) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		// Already inside a transaction: join it.
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&store{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
