package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/storetest"
)

type fakeFetcher struct {
	tasks map[string]*domain.Task
	err   error
	calls int
}

func (f *fakeFetcher) Task(_ context.Context, id string) (*domain.Task, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "task", ID: id}
	}
	return t, nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return f.allowed, f.err }
func (f *fakeLimiter) Limit() int                                  { return 1 }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveLocalHitSkipsRemote(t *testing.T) {
	store := storetest.NewMemStore()
	task := &domain.Task{ID: "t-1", Status: domain.StatusAssigned, UpdatedAt: time.Now()}
	require.NoError(t, store.UpsertTask(context.Background(), task))

	fetcher := &fakeFetcher{}
	r := NewResolver(store, fetcher, WithLogger(testLogger()))

	got, err := r.Resolve(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ID)
	assert.Zero(t, fetcher.calls)
}

func TestResolveRemoteFallbackCachesLocally(t *testing.T) {
	store := storetest.NewMemStore()
	fetcher := &fakeFetcher{tasks: map[string]*domain.Task{
		"t-9": {ID: "t-9", Status: domain.StatusCreated, Quantity: 5},
	}}
	r := NewResolver(store, fetcher, WithLogger(testLogger()))

	got, err := r.Resolve(context.Background(), "t-9")
	require.NoError(t, err)
	assert.Equal(t, "t-9", got.ID)
	assert.Equal(t, 1, fetcher.calls)

	// Second scan answers from the local store.
	got, err = r.Resolve(context.Background(), "t-9")
	require.NoError(t, err)
	assert.Equal(t, "t-9", got.ID)
	assert.Equal(t, 1, fetcher.calls)
}

func TestResolveEmptyCodeRejected(t *testing.T) {
	r := NewResolver(storetest.NewMemStore(), &fakeFetcher{}, WithLogger(testLogger()))

	_, err := r.Resolve(context.Background(), "   ")
	var invalid *domain.InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "code", invalid.Field)
}

func TestResolveThrottledLookup(t *testing.T) {
	store := storetest.NewMemStore()
	fetcher := &fakeFetcher{}
	r := NewResolver(store, fetcher,
		WithRateLimiter(&fakeLimiter{allowed: false}),
		WithLogger(testLogger()),
	)

	_, err := r.Resolve(context.Background(), "t-1")
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Zero(t, fetcher.calls)
}

func TestResolveLimiterFailureStillLooksUp(t *testing.T) {
	store := storetest.NewMemStore()
	fetcher := &fakeFetcher{tasks: map[string]*domain.Task{"t-1": {ID: "t-1"}}}
	r := NewResolver(store, fetcher,
		WithRateLimiter(&fakeLimiter{err: errors.New("redis down")}),
		WithLogger(testLogger()),
	)

	got, err := r.Resolve(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ID)
}

func TestResolveUnknownEverywhere(t *testing.T) {
	r := NewResolver(storetest.NewMemStore(), &fakeFetcher{}, WithLogger(testLogger()))

	_, err := r.Resolve(context.Background(), "nope")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
