package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/lifecycle"
	"github.com/stitchflow/stitchflow/internal/postgres"
	redisstore "github.com/stitchflow/stitchflow/internal/redis"
	"github.com/stitchflow/stitchflow/internal/scan"
	"github.com/stitchflow/stitchflow/internal/session"
	"github.com/stitchflow/stitchflow/internal/stats"
	"github.com/stitchflow/stitchflow/internal/syncer"
)

// REST handles HTTP requests for the floor-facing API.
type REST struct {
	store     postgres.Store
	tasks     *lifecycle.Manager
	sessions  *session.Tracker
	stats     *stats.Aggregator
	resolver  *scan.Resolver
	syncState redisstore.SyncState
	logger    *slog.Logger
}

// NewREST creates a new REST handler. syncState may be nil when the sync
// daemon is not deployed.
func NewREST(
	store postgres.Store,
	tasks *lifecycle.Manager,
	sessions *session.Tracker,
	aggregator *stats.Aggregator,
	resolver *scan.Resolver,
	syncState redisstore.SyncState,
	logger *slog.Logger,
) *REST {
	return &REST{
		store:     store,
		tasks:     tasks,
		sessions:  sessions,
		stats:     aggregator,
		resolver:  resolver,
		syncState: syncState,
		logger:    logger,
	}
}

// Routes mounts all API routes on the router.
func (h *REST) Routes(r chi.Router) {
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", h.ListTasks)
		r.Post("/", h.CreateTask)
		r.Get("/{id}", h.GetTask)
		r.Post("/{id}/assign", h.AssignTask)
		r.Post("/{id}/start", h.StartTask)
		r.Post("/{id}/resume", h.ResumeTask)
		r.Post("/{id}/complete", h.CompleteTask)
		r.Post("/{id}/cancel", h.CancelTask)
	})
	r.Get("/workers", h.ListWorkers)
	r.Route("/workers/{id}", func(r chi.Router) {
		r.Get("/tasks", h.WorkerTasks)
		r.Get("/session", h.WorkerSession)
		r.Get("/stats", h.WorkerDayStats)
	})
	r.Get("/products", h.ListProducts)
	r.Post("/scan", h.ResolveScan)
	r.Get("/sync/status", h.SyncStatus)
}

// CreateTaskRequest is the JSON body for POST /api/v1/tasks.
type CreateTaskRequest struct {
	ID        string     `json:"id"`
	ProductID string     `json:"product_id"`
	Quantity  int        `json:"quantity"`
	Priority  int        `json:"priority"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Notes     string     `json:"notes"`
}

// CreateTask handles POST /api/v1/tasks. Tasks normally arrive from the ERP
// via sync; this backs locally created ad-hoc work.
func (h *REST) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := &domain.Task{
		ID:        strings.TrimSpace(req.ID),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Priority:  req.Priority,
		Deadline:  req.Deadline,
		Notes:     req.Notes,
	}
	if err := h.tasks.Create(r.Context(), task); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

const defaultListLimit = 100

// ListTasks handles GET /api/v1/tasks?status=CREATED&limit=50. Without a
// status parameter it lists the unassigned backlog.
func (h *REST) ListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.StatusCreated
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = domain.Status(raw)
		if !status.Known() {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	tasks, err := h.store.ListTasksByStatus(r.Context(), status, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type workerRequest struct {
	WorkerID string `json:"worker_id"`
}

func decodeWorkerRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req workerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if strings.TrimSpace(req.WorkerID) == "" {
		writeError(w, http.StatusBadRequest, "field 'worker_id' is required")
		return "", false
	}
	return req.WorkerID, true
}

// AssignTask handles POST /api/v1/tasks/{id}/assign.
func (h *REST) AssignTask(w http.ResponseWriter, r *http.Request) {
	workerID, ok := decodeWorkerRequest(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.Assign(r.Context(), chi.URLParam(r, "id"), workerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// StartTaskResponse carries the task together with the session opened for it.
type StartTaskResponse struct {
	Task    *domain.Task        `json:"task"`
	Session *domain.WorkSession `json:"session"`
}

// StartTask handles POST /api/v1/tasks/{id}/start.
func (h *REST) StartTask(w http.ResponseWriter, r *http.Request) {
	workerID, ok := decodeWorkerRequest(w, r)
	if !ok {
		return
	}
	task, sess, err := h.tasks.Start(r.Context(), chi.URLParam(r, "id"), workerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartTaskResponse{Task: task, Session: sess})
}

// ResumeTask handles POST /api/v1/tasks/{id}/resume.
func (h *REST) ResumeTask(w http.ResponseWriter, r *http.Request) {
	workerID, ok := decodeWorkerRequest(w, r)
	if !ok {
		return
	}
	sess, err := h.tasks.Resume(r.Context(), chi.URLParam(r, "id"), workerID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// CompleteTaskRequest is the JSON body for POST /api/v1/tasks/{id}/complete.
// CompletedQuantity is cumulative, not incremental.
type CompleteTaskRequest struct {
	CompletedQuantity int `json:"completed_quantity"`
}

// CompleteTask handles POST /api/v1/tasks/{id}/complete.
func (h *REST) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req CompleteTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.tasks.RecordCompletion(r.Context(), chi.URLParam(r, "id"), req.CompletedQuantity)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel.
func (h *REST) CancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListWorkers handles GET /api/v1/workers: the active roster, for picking who
// a task gets assigned to.
func (h *REST) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.ListActiveWorkers(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if workers == nil {
		workers = []*domain.Worker{}
	}
	writeJSON(w, http.StatusOK, workers)
}

// WorkerTasks handles GET /api/v1/workers/{id}/tasks.
func (h *REST) WorkerTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasksByWorker(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// WorkerSession handles GET /api/v1/workers/{id}/session. Responds 204 when
// the worker has no open session.
func (h *REST) WorkerSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.ActiveFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// WorkerDayStats handles GET /api/v1/workers/{id}/stats?date=2006-01-02.
// Without a date parameter it reports today.
func (h *REST) WorkerDayStats(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		// Parsed in the aggregator's timezone: UTC midnight would fall on the
		// previous local day anywhere west of Greenwich.
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.stats.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted as 2006-01-02")
			return
		}
		date = parsed
	}

	dayStats, err := h.stats.ComputeDayStats(r.Context(), chi.URLParam(r, "id"), date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dayStats)
}

// ListProducts handles GET /api/v1/products.
func (h *REST) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListActiveProducts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if products == nil {
		products = []*domain.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// ScanRequest is the JSON body for POST /api/v1/scan.
type ScanRequest struct {
	Code string `json:"code"`
}

// ResolveScan handles POST /api/v1/scan: a task code read off a label.
func (h *REST) ResolveScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.resolver.Resolve(r.Context(), req.Code)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// SyncStatusResponse reports the last recorded pull per kind. Kinds that have
// never pulled are omitted.
type SyncStatusResponse struct {
	Pulls map[string]*redisstore.PullRecord `json:"pulls"`
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *REST) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{Pulls: make(map[string]*redisstore.PullRecord)}
	if h.syncState != nil {
		for _, kind := range []string{syncer.KindCatalog, syncer.KindRoster, syncer.KindTasks} {
			rec, err := h.syncState.LastPull(r.Context(), kind)
			if err != nil {
				h.writeDomainError(w, r, err)
				return
			}
			if rec != nil {
				resp.Pulls[kind] = rec
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz — checks database connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.store.ListActiveProducts(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeDomainError maps domain errors onto HTTP status codes.
func (h *REST) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound    *domain.NotFoundError
		invalidArg  *domain.InvalidArgumentError
		transition  *domain.InvalidTransitionError
		conflict    *domain.ConflictError
		unavailable *domain.RemoteUnavailableError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalidArg):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("internal error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
