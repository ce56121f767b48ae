package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/storetest"
)

func TestNewRunnerRejectsBadSchedule(t *testing.T) {
	rec := NewReconciler(storetest.NewMemStore(), &fakeRemote{}, WithLogger(discardLogger()))

	_, err := NewRunner(rec, nil, "every five minutes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse sync schedule")
}

func TestRunnerRunsPassBeforeFirstTick(t *testing.T) {
	store := storetest.NewMemStore()
	remote := &fakeRemote{
		products: []*domain.Product{{ID: "p-1", Name: "Jacket", IsActive: true}},
	}
	rec := NewReconciler(store, remote, WithLogger(discardLogger()))

	runner, err := NewRunner(rec, nil, "*/5 * * * *", WithRunnerLogger(discardLogger()))
	require.NoError(t, err)

	// An already-cancelled context still gets the immediate pass; Run exits
	// on the first select.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	got, err := store.GetProduct(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Jacket", got.Name)
}

func TestRunnerWithPullTimeout(t *testing.T) {
	rec := NewReconciler(storetest.NewMemStore(), &fakeRemote{}, WithLogger(discardLogger()))

	runner, err := NewRunner(rec, nil, "*/5 * * * *",
		WithPullTimeout(30*time.Second),
		WithRunnerLogger(discardLogger()),
	)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, runner.pullTimeout)
}
