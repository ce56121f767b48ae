package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	redisstore "github.com/stitchflow/stitchflow/internal/redis"
)

const tickInterval = 15 * time.Second

// Runner fires reconciliation passes on a cron schedule. When several syncd
// instances run, a Redis leader lock keeps all but one of them idle, so the
// ERP sees a single puller.
type Runner struct {
	reconciler  *Reconciler
	lock        *redisstore.LeaderLock
	schedule    cron.Schedule
	pullTimeout time.Duration
	logger      *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPullTimeout bounds a single reconciliation pass.
func WithPullTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pullTimeout = d }
}

func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner. spec is a standard five-field cron expression,
// e.g. "*/5 * * * *" for every five minutes.
func NewRunner(reconciler *Reconciler, lock *redisstore.LeaderLock, spec string, opts ...RunnerOption) (*Runner, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", spec, err)
	}

	r := &Runner{
		reconciler:  reconciler,
		lock:        lock,
		schedule:    schedule,
		pullTimeout: 2 * time.Minute,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run blocks until ctx is cancelled. It runs one pass immediately so a fresh
// deployment does not wait out the first cron window with an empty catalog.
func (r *Runner) Run(ctx context.Context) error {
	r.attempt(ctx)
	next := r.schedule.Next(time.Now())

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.lock != nil {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := r.lock.Release(releaseCtx); err != nil {
					r.logger.Error("failed to release leader lock", slog.String("error", err.Error()))
				}
			}
			return ctx.Err()
		case now := <-ticker.C:
			if now.Before(next) {
				// Renew leadership between passes so the lock does not lapse
				// mid-schedule.
				r.renew(ctx)
				continue
			}
			r.attempt(ctx)
			next = r.schedule.Next(now)
		}
	}
}

func (r *Runner) attempt(ctx context.Context) {
	if !r.isLeader(ctx) {
		r.logger.Debug("skipping sync pass, not leader")
		return
	}

	passCtx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()

	r.logger.Info("sync pass starting")
	if err := r.reconciler.PullAll(passCtx); err != nil {
		r.logger.Error("sync pass finished with errors", slog.String("error", err.Error()))
		return
	}
	r.logger.Info("sync pass finished")
}

func (r *Runner) isLeader(ctx context.Context) bool {
	if r.lock == nil {
		return true
	}
	ok, err := r.lock.AcquireOrRenew(ctx)
	if err != nil {
		r.logger.Error("leader lock check failed", slog.String("error", err.Error()))
		return false
	}
	return ok
}

func (r *Runner) renew(ctx context.Context) {
	if r.lock == nil {
		return
	}
	if _, err := r.lock.AcquireOrRenew(ctx); err != nil {
		r.logger.Error("leader lock renewal failed", slog.String("error", err.Error()))
	}
}
