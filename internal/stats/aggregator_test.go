package stats_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/stats"
	"github.com/stitchflow/stitchflow/internal/storetest"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func seedCatalog(t *testing.T, store *storetest.MemStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.UpsertProducts(ctx, []*domain.Product{
		{ID: "p-1", Name: "Jacket", Price: 150.0, IsActive: true},
	}))
	w := "w-1"
	require.NoError(t, store.UpsertTask(ctx, &domain.Task{
		ID: "t-1", ProductID: "p-1", WorkerID: &w, Quantity: 10,
		Status: domain.StatusInProgress, CreatedAt: day, UpdatedAt: day,
	}))
}

func closedSession(taskID, workerID string, start time.Time, minutes int64, qty int) *domain.WorkSession {
	end := start.Add(time.Duration(minutes) * time.Minute)
	return &domain.WorkSession{
		TaskID: taskID, WorkerID: workerID,
		StartTime: start, EndTime: &end,
		CompletedQuantity: qty, CreatedAt: start,
	}
}

func TestComputeDayStats_TwoSessions(t *testing.T) {
	store := storetest.NewMemStore()
	seedCatalog(t, store)
	ctx := context.Background()

	_, err := store.InsertSession(ctx, closedSession("t-1", "w-1", day.Add(9*time.Hour), 120, 5))
	require.NoError(t, err)
	_, err = store.InsertSession(ctx, closedSession("t-1", "w-1", day.Add(14*time.Hour), 90, 3))
	require.NoError(t, err)

	agg := stats.NewAggregator(store, stats.WithLocation(time.UTC))
	got, err := agg.ComputeDayStats(ctx, "w-1", day)
	require.NoError(t, err)

	assert.Equal(t, 8, got.TotalQuantity)
	assert.Equal(t, int64(210), got.TotalWorkTimeMinutes)
	assert.InDelta(t, 1200.0, got.TotalEarnings, 0.001)
	assert.Equal(t, 2, got.SessionsCount)
}

func TestComputeDayStats_DayBoundary(t *testing.T) {
	store := storetest.NewMemStore()
	seedCatalog(t, store)
	ctx := context.Background()

	// One session just inside the day, one the evening before, one at the
	// stroke of the next midnight. Only the first counts.
	_, err := store.InsertSession(ctx, closedSession("t-1", "w-1", day, 60, 2))
	require.NoError(t, err)
	_, err = store.InsertSession(ctx, closedSession("t-1", "w-1", day.Add(-30*time.Minute), 60, 4))
	require.NoError(t, err)
	_, err = store.InsertSession(ctx, closedSession("t-1", "w-1", day.AddDate(0, 0, 1), 60, 6))
	require.NoError(t, err)

	agg := stats.NewAggregator(store, stats.WithLocation(time.UTC))
	got, err := agg.ComputeDayStats(ctx, "w-1", day.Add(13*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, got.TotalQuantity)
	assert.Equal(t, 1, got.SessionsCount)
	assert.InDelta(t, 300.0, got.TotalEarnings, 0.001)
}

func TestComputeDayStats_ActiveSessionContributesZeroMinutes(t *testing.T) {
	store := storetest.NewMemStore()
	seedCatalog(t, store)
	ctx := context.Background()

	_, err := store.InsertSession(ctx, &domain.WorkSession{
		TaskID: "t-1", WorkerID: "w-1",
		StartTime: day.Add(8 * time.Hour), IsActive: true, CreatedAt: day,
	})
	require.NoError(t, err)

	agg := stats.NewAggregator(store, stats.WithLocation(time.UTC))
	got, err := agg.ComputeDayStats(ctx, "w-1", day)
	require.NoError(t, err)

	assert.Equal(t, int64(0), got.TotalWorkTimeMinutes)
	assert.Equal(t, 1, got.SessionsCount)
}

func TestComputeDayStats_UnresolvableTaskContributesZeroEarnings(t *testing.T) {
	store := storetest.NewMemStore()
	seedCatalog(t, store)
	ctx := context.Background()

	// Session referencing a task the sync has not delivered yet.
	_, err := store.InsertSession(ctx, closedSession("t-ghost", "w-1", day.Add(9*time.Hour), 60, 5))
	require.NoError(t, err)
	_, err = store.InsertSession(ctx, closedSession("t-1", "w-2", day.Add(9*time.Hour), 60, 3))
	require.NoError(t, err)

	agg := stats.NewAggregator(store, stats.WithLocation(time.UTC))
	got, err := agg.ComputeDayStats(ctx, "w-1", day)
	require.NoError(t, err)

	// Quantity still counts, earnings do not.
	assert.Equal(t, 5, got.TotalQuantity)
	assert.InDelta(t, 0.0, got.TotalEarnings, 0.001)
}

func TestComputeDayStats_CompletedTaskCount(t *testing.T) {
	store := storetest.NewMemStore()
	seedCatalog(t, store)
	ctx := context.Background()

	w := "w-1"
	completedAt := day.Add(16 * time.Hour)
	require.NoError(t, store.UpsertTask(ctx, &domain.Task{
		ID: "t-done", ProductID: "p-1", WorkerID: &w, Quantity: 5, CompletedQuantity: 5,
		Status: domain.StatusCompleted, CompletedAt: &completedAt,
		CreatedAt: day, UpdatedAt: completedAt,
	}))
	yesterday := day.Add(-8 * time.Hour)
	require.NoError(t, store.UpsertTask(ctx, &domain.Task{
		ID: "t-old", ProductID: "p-1", WorkerID: &w, Quantity: 2, CompletedQuantity: 2,
		Status: domain.StatusCompleted, CompletedAt: &yesterday,
		CreatedAt: day.AddDate(0, 0, -1), UpdatedAt: yesterday,
	}))

	agg := stats.NewAggregator(store, stats.WithLocation(time.UTC))
	got, err := agg.ComputeDayStats(ctx, "w-1", day)
	require.NoError(t, err)

	assert.Equal(t, 1, got.CompletedTasksCount)
}
