package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/lifecycle"
	redisstore "github.com/stitchflow/stitchflow/internal/redis"
	"github.com/stitchflow/stitchflow/internal/scan"
	"github.com/stitchflow/stitchflow/internal/session"
	"github.com/stitchflow/stitchflow/internal/stats"
	"github.com/stitchflow/stitchflow/internal/storetest"
	"github.com/stitchflow/stitchflow/internal/syncer"
)

type fakeFetcher struct {
	tasks map[string]*domain.Task
}

func (f *fakeFetcher) Task(_ context.Context, id string) (*domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "task", ID: id}
	}
	return t, nil
}

type fakeSyncState struct {
	records map[string]redisstore.PullRecord
}

func (f *fakeSyncState) RecordPull(_ context.Context, kind string, rec redisstore.PullRecord) error {
	f.records[kind] = rec
	return nil
}

func (f *fakeSyncState) LastPull(_ context.Context, kind string) (*redisstore.PullRecord, error) {
	rec, ok := f.records[kind]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

type fixture struct {
	store  *storetest.MemStore
	router *chi.Mux
	state  *fakeSyncState
}

func newFixture(t *testing.T) *fixture {
	return newFixtureIn(t, time.UTC)
}

func newFixtureIn(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storetest.NewMemStore()

	tracker := session.NewTracker(store, session.WithLogger(logger))
	manager := lifecycle.NewManager(store, tracker, lifecycle.WithLogger(logger))
	aggregator := stats.NewAggregator(store,
		stats.WithLocation(loc),
		stats.WithLogger(logger),
	)
	resolver := scan.NewResolver(store, &fakeFetcher{tasks: map[string]*domain.Task{}}, scan.WithLogger(logger))
	state := &fakeSyncState{records: map[string]redisstore.PullRecord{}}

	rest := NewREST(store, manager, tracker, aggregator, resolver, state, logger)

	r := chi.NewRouter()
	r.Get("/healthz", rest.Healthz)
	r.Get("/readyz", rest.Readyz)
	r.Route("/api/v1", rest.Routes)

	return &fixture{store: store, router: r, state: state}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedWorker(t *testing.T, id string) {
	t.Helper()
	err := f.store.UpsertWorkers(context.Background(), []*domain.Worker{
		{ID: id, FirstName: "Ivan", LastName: "Petrov", HourlyRate: 400, IsActive: true},
	})
	require.NoError(t, err)
}

func TestCreateAndGetTask(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{
		ID:        "t-1",
		ProductID: "p-1",
		Quantity:  10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/tasks/t-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, domain.StatusCreated, task.Status)
	assert.Equal(t, 10, task.Quantity)
}

func TestCreateTaskRejectsMissingQuantity(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-1/assign", workerRequest{WorkerID: "w-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-1/start", workerRequest{WorkerID: "w-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var started StartTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.Equal(t, domain.StatusInProgress, started.Task.Status)
	require.NotNil(t, started.Session)
	assert.True(t, started.Session.IsActive)

	// The worker now shows an open session.
	rec = f.do(t, http.MethodGet, "/api/v1/workers/w-1/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-1/complete", CompleteTaskRequest{CompletedQuantity: 5})
	require.Equal(t, http.StatusOK, rec.Code)

	var completed domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	assert.Equal(t, domain.StatusCompleted, completed.Status)

	// Session closed with the completion.
	rec = f.do(t, http.MethodGet, "/api/v1/workers/w-1/session", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStartUnassignedTaskConflicts(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-1/start", workerRequest{WorkerID: "w-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAssignUnknownWorker(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-1/assign", workerRequest{WorkerID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteOverTargetRejected(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	f.do(t, http.MethodPost, "/api/v1/tasks/t-1/assign", workerRequest{WorkerID: "w-1"})
	f.do(t, http.MethodPost, "/api/v1/tasks/t-1/start", workerRequest{WorkerID: "w-1"})

	rec := f.do(t, http.MethodPost, "/api/v1/tasks/t-1/complete", CompleteTaskRequest{CompletedQuantity: 6})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	rec := f.do(t, http.MethodPost, "/api/v1/tasks/t-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second cancel hits the terminal-state guard.
	rec = f.do(t, http.MethodPost, "/api/v1/tasks/t-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWorkerTasksList(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	f.do(t, http.MethodPost, "/api/v1/tasks/t-1/assign", workerRequest{WorkerID: "w-1"})

	rec := f.do(t, http.MethodGet, "/api/v1/workers/w-1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []*domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-1", tasks[0].ID)
}

func TestWorkerDayStatsBadDate(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	rec := f.do(t, http.MethodGet, "/api/v1/workers/w-1/stats?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerDayStatsEmptyDay(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	rec := f.do(t, http.MethodGet, "/api/v1/workers/w-1/stats?date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.WorkerDayStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.TotalQuantity)
	assert.Zero(t, stats.SessionsCount)
}

// The date parameter names a calendar day in the aggregator's timezone. West
// of Greenwich that day's UTC midnight falls on the previous local day, so a
// UTC parse would report the wrong day's stats.
func TestWorkerDayStatsWestOfGreenwich(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	f := newFixtureIn(t, loc)
	f.seedWorker(t, "w-1")

	start := time.Date(2026, 8, 30, 10, 0, 0, 0, loc)
	end := start.Add(2 * time.Hour)
	_, err := f.store.InsertSession(context.Background(), &domain.WorkSession{
		TaskID: "t-1", WorkerID: "w-1", StartTime: start, EndTime: &end,
		CompletedQuantity: 5, IsActive: false, CreatedAt: start,
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/workers/w-1/stats?date=2026-08-30", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.WorkerDayStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 5, got.TotalQuantity)
	assert.Equal(t, 1, got.SessionsCount)
}

func TestListWorkersReturnsActiveRoster(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")
	require.NoError(t, f.store.UpsertWorkers(context.Background(), []*domain.Worker{
		{ID: "w-2", FirstName: "Olga", LastName: "Smirnova", IsActive: false},
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/workers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var workers []*domain.Worker
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, "w-1", workers[0].ID)
}

func TestListTasksDefaultsToBacklog(t *testing.T) {
	f := newFixture(t)
	f.seedWorker(t, "w-1")

	f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-1", ProductID: "p-1", Quantity: 5})
	f.do(t, http.MethodPost, "/api/v1/tasks", CreateTaskRequest{ID: "t-2", ProductID: "p-1", Quantity: 5})
	f.do(t, http.MethodPost, "/api/v1/tasks/t-2/assign", workerRequest{WorkerID: "w-1"})

	rec := f.do(t, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []*domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-1", tasks[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v1/tasks?status=ASSIGNED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "t-2", tasks[0].ID)
}

func TestListTasksRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tasks?status=PAUSED", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanResolvesLocalTask(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertTask(context.Background(), &domain.Task{
		ID: "t-7", Status: domain.StatusAssigned, UpdatedAt: time.Now(),
	}))

	rec := f.do(t, http.MethodPost, "/api/v1/scan", ScanRequest{Code: "t-7"})
	require.Equal(t, http.StatusOK, rec.Code)

	var task domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "t-7", task.ID)
}

func TestScanEmptyCode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/scan", ScanRequest{Code: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStatusReportsRecordedPulls(t *testing.T) {
	f := newFixture(t)
	f.state.records[syncer.KindTasks] = redisstore.PullRecord{
		At: time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC), Fetched: 12, Upserted: 11, Skipped: 1,
	}

	rec := f.do(t, http.MethodGet, "/api/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Pulls, syncer.KindTasks)
	assert.Equal(t, 12, resp.Pulls[syncer.KindTasks].Fetched)
	assert.NotContains(t, resp.Pulls, syncer.KindCatalog)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
