package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Lifecycle ───────────────────────────────────────────────────────────────

	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "lifecycle",
		Name:      "task_transitions_total",
		Help:      "Total task state transitions, labelled by operation and resulting status.",
	}, []string{"op", "status"})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "lifecycle",
		Name:      "tasks_completed_total",
		Help:      "Total tasks that reached COMPLETED.",
	})

	OrphanSessionsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "lifecycle",
		Name:      "orphan_sessions_recovered_total",
		Help:      "Sessions force-closed by the startup recovery sweep.",
	})

	// ─── Sessions ────────────────────────────────────────────────────────────────

	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "sessions",
		Name:      "opened_total",
		Help:      "Total work sessions opened.",
	})

	SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "sessions",
		Name:      "closed_total",
		Help:      "Total work sessions closed.",
	})

	// ─── Sync ────────────────────────────────────────────────────────────────────

	SyncPullDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stitchflow",
		Subsystem: "sync",
		Name:      "pull_duration_seconds",
		Help:      "Duration of a sync pull pass, labelled by kind (catalog, roster, tasks).",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	SyncPullErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "sync",
		Name:      "pull_errors_total",
		Help:      "Failed sync pull passes, labelled by kind.",
	}, []string{"kind"})

	SyncTasksProtected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "sync",
		Name:      "tasks_protected_total",
		Help:      "Remote task snapshots skipped because the local copy carried unsynced progress.",
	})

	CompletionPushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "sync",
		Name:      "completion_pushes_total",
		Help:      "Completion events pushed upstream, labelled by result (ok, error).",
	}, []string{"result"})

	// ─── API ─────────────────────────────────────────────────────────────────────

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total API requests, labelled by route and status class.",
	}, []string{"route", "status"})

	ScanResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stitchflow",
		Subsystem: "api",
		Name:      "scan_resolutions_total",
		Help:      "Scanned code resolutions, labelled by source (local, remote, miss).",
	}, []string{"source"})
)
