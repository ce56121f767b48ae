// Package scan resolves task codes read off printed labels into tasks. The
// local store answers first; unknown codes fall through to the ERP behind a
// rate limiter, so a mis-printed label scanned in a loop cannot flood it.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/postgres"
	redisstore "github.com/stitchflow/stitchflow/internal/redis"
	"github.com/stitchflow/stitchflow/pkg/telemetry"
)

// remoteLimitKey buckets all remote scan lookups together. Per-terminal keys
// would let a fleet of scanners multiply the load on the ERP.
const remoteLimitKey = "remote_lookup"

// TaskFetcher is the single-task slice of the ERP client.
type TaskFetcher interface {
	Task(ctx context.Context, id string) (*domain.Task, error)
}

// Resolver turns scanned codes into tasks.
type Resolver struct {
	store   postgres.Store
	remote  TaskFetcher
	limiter redisstore.RateLimiter
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRateLimiter guards remote lookups. Without one, every local miss goes
// straight to the ERP.
func WithRateLimiter(l redisstore.RateLimiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// NewResolver constructs a Resolver.
func NewResolver(store postgres.Store, remote TaskFetcher, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		remote: remote,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks the code up locally first and falls back to the ERP on a
// miss. A remote hit is cached into the local store so the next scan of the
// same label answers locally.
func (r *Resolver) Resolve(ctx context.Context, code string) (*domain.Task, error) {
	ctx, span := otel.Tracer("scan").Start(ctx, "scan.resolve")
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &domain.InvalidArgumentError{Field: "code", Reason: "must not be empty"}
	}
	span.SetAttributes(attribute.String("scan.code", code))

	task, err := r.store.GetTask(ctx, code)
	if err == nil {
		telemetry.ScanResolutions.WithLabelValues("local").Inc()
		return task, nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}

	if r.limiter != nil {
		allowed, limitErr := r.limiter.Allow(ctx, remoteLimitKey)
		if limitErr != nil {
			// A broken limiter should not take scanning down with it.
			r.logger.Error("scan rate limiter failed, allowing lookup",
				slog.String("error", limitErr.Error()),
			)
		} else if !allowed {
			telemetry.ScanResolutions.WithLabelValues("throttled").Inc()
			return nil, &domain.ConflictError{
				Resource: "scan lookup",
				Reason:   "remote lookups are rate limited, retry shortly",
			}
		}
	}

	task, err = r.remote.Task(ctx, code)
	if err != nil {
		if errors.As(err, &nf) {
			telemetry.ScanResolutions.WithLabelValues("miss").Inc()
		}
		return nil, err
	}

	if err := r.store.UpsertTask(ctx, task); err != nil {
		// The caller still gets the task; only the cache write failed.
		r.logger.Error("failed to cache remotely resolved task",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}

	telemetry.ScanResolutions.WithLabelValues("remote").Inc()
	r.logger.Info("scan resolved remotely", slog.String("task_id", task.ID))
	return task, nil
}
