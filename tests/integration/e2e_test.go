//go:build integration

// Package integration contains end-to-end integration tests that require
// real infrastructure (Kafka, Redis, PostgreSQL) provided by testcontainers-go.
//
// Run with: go test -tags=integration -v ./tests/integration/
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/kafka"
	"github.com/stitchflow/stitchflow/internal/lifecycle"
	"github.com/stitchflow/stitchflow/internal/onec"
	"github.com/stitchflow/stitchflow/internal/session"
	"github.com/stitchflow/stitchflow/internal/syncer"
)

// TestE2E_CompletionPipeline walks one task through the full local lifecycle
// and asserts the completion reaches the (fake) ERP through Kafka.
//
// Flow: assign → start → complete against Postgres → completion event on
// Kafka → relay consumes → POST to the ERP stub.
func TestE2E_CompletionPipeline(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	store := newStore(t)
	seedCatalog(t, store, "p-1", "w-1")
	seedTask(t, store, "t-1", "p-1", nil, domain.StatusCreated)

	// ── ERP stub: records completion pushes ──────────────────────────────────
	pushed := make(chan onec.Completion, 1)
	erpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/tasks/t-1/complete" {
			var c onec.Completion
			require.NoError(t, json.NewDecoder(r.Body).Decode(&c))
			pushed <- c
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"success":true}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(erpSrv.Close)
	erp := onec.NewClient(erpSrv.URL)

	// ── Kafka pipeline ───────────────────────────────────────────────────────
	createTopic(t, syncer.TopicCompletions)

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck

	groupID := fmt.Sprintf("e2e-relay-%d", time.Now().UnixNano())
	consumer := kafka.NewConsumer(testKafkaBrokers, syncer.TopicCompletions, groupID, logger)
	t.Cleanup(func() { consumer.Close() }) //nolint:errcheck

	relay := syncer.NewRelay(consumer, erp, logger)
	relayCtx, relayCancel := context.WithTimeout(ctx, 60*time.Second)
	defer relayCancel()
	go relay.Run(relayCtx) //nolint:errcheck

	// ── Local lifecycle ──────────────────────────────────────────────────────
	tracker := session.NewTracker(store, session.WithLogger(logger))
	manager := lifecycle.NewManager(store, tracker,
		lifecycle.WithNotifier(syncer.NewPublisher(producer, logger)),
		lifecycle.WithLogger(logger),
	)

	_, err := manager.Assign(ctx, "t-1", "w-1")
	require.NoError(t, err)

	_, sess, err := manager.Start(ctx, "t-1", "w-1")
	require.NoError(t, err)
	assert.True(t, sess.IsActive)

	done, err := manager.RecordCompletion(ctx, "t-1", 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	// ── Assertions ───────────────────────────────────────────────────────────
	select {
	case got := <-pushed:
		assert.Equal(t, 10, got.CompletedQuantity)
		assert.Equal(t, "w-1", got.WorkerID)
	case <-relayCtx.Done():
		t.Fatal("completion never reached the ERP stub")
	}

	// The worker's session closed with the completion.
	active, err := tracker.ActiveFor(ctx, "w-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	final, err := store.GetTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 10, final.CompletedQuantity)
	require.NotNil(t, final.CompletedAt)
}
