package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/postgres"
	redisstore "github.com/stitchflow/stitchflow/internal/redis"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
)

// Pull kinds recorded in the sync state.
const (
	KindCatalog = "catalog"
	KindRoster  = "roster"
	KindTasks   = "tasks"
)

// RemoteCatalog is the slice of the ERP contract the reconciler pulls from.
type RemoteCatalog interface {
	Products(ctx context.Context) ([]*domain.Product, error)
	Workers(ctx context.Context) ([]*domain.Worker, error)
	Tasks(ctx context.Context) ([]*domain.Task, error)
}

// Reconciler merges remote authoritative data into the local store without
// discarding unsynced local progress.
type Reconciler struct {
	store  postgres.Store
	client RemoteCatalog
	state  redisstore.SyncState
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSyncState records pull outcomes so other services can report staleness.
func WithSyncState(state redisstore.SyncState) Option {
	return func(r *Reconciler) { r.state = state }
}

func WithLogger(l *slog.Logger) Option { return func(r *Reconciler) { r.logger = l } }

// NewReconciler constructs a Reconciler.
func NewReconciler(store postgres.Store, client RemoteCatalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PullAll runs catalog, roster and task pulls in order. Each pull fails
// independently; the first error is returned after all three have run, so a
// flaky tasks endpoint does not starve the catalog of updates.
func (r *Reconciler) PullAll(ctx context.Context) error {
	var firstErr error
	for _, pull := range []func(context.Context) error{
		r.PullCatalog,
		r.PullRoster,
		r.PullTasks,
	} {
		if err := pull(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PullCatalog replaces local products with the remote copy. There is no
// merge: catalog rows are never user-editable, so remote wins entirely.
func (r *Reconciler) PullCatalog(ctx context.Context) error {
	start := time.Now()
	rec := redisstore.PullRecord{At: start}

	products, err := r.client.Products(ctx)
	if err != nil {
		return r.finishPull(ctx, KindCatalog, rec, start, err)
	}
	rec.Fetched = len(products)

	if err := r.store.UpsertProducts(ctx, products); err != nil {
		return r.finishPull(ctx, KindCatalog, rec, start, err)
	}
	rec.Upserted = len(products)
	return r.finishPull(ctx, KindCatalog, rec, start, nil)
}

// PullRoster replaces local workers with the remote copy, same semantics as
// PullCatalog.
func (r *Reconciler) PullRoster(ctx context.Context) error {
	start := time.Now()
	rec := redisstore.PullRecord{At: start}

	workers, err := r.client.Workers(ctx)
	if err != nil {
		return r.finishPull(ctx, KindRoster, rec, start, err)
	}
	rec.Fetched = len(workers)

	if err := r.store.UpsertWorkers(ctx, workers); err != nil {
		return r.finishPull(ctx, KindRoster, rec, start, err)
	}
	rec.Upserted = len(workers)
	return r.finishPull(ctx, KindRoster, rec, start, nil)
}

// PullTasks merges the remote task list. Remote wins unless the local copy
// is protected: IN_PROGRESS or COMPLETED status, or a higher completed
// quantity, means local work is in flight and the stale snapshot is skipped
// until the completion has been pushed. Writes are guarded on updated_at so
// a completion committing concurrently with the pull also wins; the skipped
// row is retried on the next pass.
func (r *Reconciler) PullTasks(ctx context.Context) error {
	ctx, span := otel.Tracer("syncer").Start(ctx, "syncer.pull_tasks")
	defer span.End()

	start := time.Now()
	rec := redisstore.PullRecord{At: start}

	remote, err := r.client.Tasks(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote fetch failed")
		return r.finishPull(ctx, KindTasks, rec, start, err)
	}
	rec.Fetched = len(remote)
	span.SetAttributes(attribute.Int("tasks.fetched", len(remote)))

	// Each task applies independently: one bad row must not starve the rest
	// of the batch. The first error is still reported so the pass shows up
	// as failed and gets retried.
	var firstErr error
	for _, rt := range remote {
		applied, err := r.applyRemoteTask(ctx, rt)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			rec.Skipped++
			r.logger.Error("failed to apply remote task",
				slog.String("task_id", rt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if applied {
			rec.Upserted++
		} else {
			rec.Skipped++
		}
	}
	return r.finishPull(ctx, KindTasks, rec, start, firstErr)
}

func (r *Reconciler) applyRemoteTask(ctx context.Context, rt *domain.Task) (bool, error) {
	local, err := r.store.GetTask(ctx, rt.ID)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			// New to this floor: take the remote copy as-is.
			return true, r.store.UpsertTask(ctx, rt)
		}
		return false, err
	}

	if local.Status.Protected() || local.CompletedQuantity > rt.CompletedQuantity {
		telemetry.SyncTasksProtected.Inc()
		r.logger.Debug("remote task snapshot skipped, local copy protected",
			slog.String("task_id", rt.ID),
			slog.String("local_status", string(local.Status)),
			slog.Int("local_completed", local.CompletedQuantity),
		)
		return false, nil
	}

	if err := r.store.UpdateTaskGuarded(ctx, rt, local.UpdatedAt); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// A local write landed between our read and this write. Local
			// wins; the row is reconsidered on the next pass.
			r.logger.Info("sync write lost to concurrent local update",
				slog.String("task_id", rt.ID),
			)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *Reconciler) finishPull(ctx context.Context, kind string, rec redisstore.PullRecord, start time.Time, err error) error {
	telemetry.SyncPullDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.SyncPullErrors.WithLabelValues(kind).Inc()
		rec.Err = err.Error()
		r.logger.Error("sync pull failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.Info("sync pull finished",
			slog.String("kind", kind),
			slog.Int("fetched", rec.Fetched),
			slog.Int("upserted", rec.Upserted),
			slog.Int("skipped", rec.Skipped),
		)
	}

	if r.state != nil {
		if stateErr := r.state.RecordPull(ctx, kind, rec); stateErr != nil {
			r.logger.Error("failed to record pull state",
				slog.String("kind", kind),
				slog.String("error", stateErr.Error()),
			)
		}
	}
	return err
}
