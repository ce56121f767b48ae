package onec_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/internal/onec"
	"github.com/stitchflow/stitchflow/pkg/retry"
)

func fastRetry() onec.Option {
	return onec.WithRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
}

func TestProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/products", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"p-1","name":"Jacket","price":150.0,"is_active":true}]`))
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	products, err := c.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "p-1", products[0].ID)
	assert.InDelta(t, 150.0, products[0].Price, 0.001)
}

func TestTask_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	_, err := c.Task(context.Background(), "ghost")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestGet_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	_, err := c.Workers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_ExhaustedRetriesIsRemoteUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	_, err := c.Tasks(context.Background())
	var ru *domain.RemoteUnavailableError
	require.ErrorAs(t, err, &ru)
}

func TestCompleteTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/tasks/t-1/complete", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	err := c.CompleteTask(context.Background(), "t-1", onec.Completion{
		CompletedQuantity: 10,
		CompletedAt:       time.Now().UTC(),
		WorkerID:          "w-1",
	})
	require.NoError(t, err)
}

func TestCompleteTask_EnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"unknown task"}`))
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	err := c.CompleteTask(context.Background(), "t-1", onec.Completion{CompletedQuantity: 10})
	var ru *domain.RemoteUnavailableError
	require.ErrorAs(t, err, &ru)
}

func TestCompleteTask_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := onec.NewClient(srv.URL, fastRetry())
	err := c.CompleteTask(context.Background(), "t-1", onec.Completion{CompletedQuantity: 5})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
