// Package onec talks to the remote 1C ERP, the system-of-record for the
// product catalog, worker roster and task issuance.
//
// Every call is bounded by the HTTP client timeout and retried with backoff;
// a call that still fails surfaces as RemoteUnavailableError, which callers
// treat as retryable and never fatal to local state.
package onec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/stitchflow/stitchflow/internal/domain"
	"github.com/stitchflow/stitchflow/pkg/retry"
)

// Completion is the body of POST tasks/{id}/complete.
type Completion struct {
	CompletedQuantity int       `json:"completedQuantity"`
	CompletedAt       time.Time `json:"completedAt"`
	WorkerID          string    `json:"workerId"`
	Notes             string    `json:"notes,omitempty"`
}

// apiResponse is the envelope 1C wraps around mutating calls.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client is the remote system contract consumed by sync and scan resolution.
type Client interface {
	Products(ctx context.Context) ([]*domain.Product, error)
	Workers(ctx context.Context) ([]*domain.Worker, error)
	Tasks(ctx context.Context) ([]*domain.Task, error)
	Task(ctx context.Context, id string) (*domain.Task, error)
	CompleteTask(ctx context.Context, id string, completion Completion) error
}

type client struct {
	baseURL string
	http    *http.Client
	retry   retry.Config
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*client)

func WithTimeout(d time.Duration) Option   { return func(c *client) { c.http.Timeout = d } }
func WithRetry(cfg retry.Config) Option    { return func(c *client) { c.retry = cfg } }
func WithLogger(l *slog.Logger) Option     { return func(c *client) { c.logger = l } }
func WithHTTPClient(h *http.Client) Option { return func(c *client) { c.http = h } }

// NewClient creates a Client for the ERP at baseURL (no trailing slash).
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		retry:   retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Products(ctx context.Context) ([]*domain.Product, error) {
	var out []*domain.Product
	if err := c.getJSON(ctx, "/products", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Workers(ctx context.Context) ([]*domain.Worker, error) {
	var out []*domain.Worker
	if err := c.getJSON(ctx, "/workers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Tasks(ctx context.Context) ([]*domain.Task, error) {
	var out []*domain.Task
	if err := c.getJSON(ctx, "/tasks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Task(ctx context.Context, id string) (*domain.Task, error) {
	var out domain.Task
	if err := c.getJSON(ctx, "/tasks/"+id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) CompleteTask(ctx context.Context, id string, completion Completion) error {
	ctx, span := otel.Tracer("onec").Start(ctx, "onec.complete_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", id),
		attribute.Int("completed_quantity", completion.CompletedQuantity),
	)

	body, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("marshal completion for task %s: %w", id, err)
	}

	op := "POST tasks/" + id + "/complete"
	err = retry.Do(ctx, c.withRetryLog(op), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/tasks/"+id+"/complete", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		var envelope apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if !envelope.Success {
			return fmt.Errorf("remote rejected completion: %s", envelope.Message)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion push failed")
		return &domain.RemoteUnavailableError{Op: op, Err: err}
	}
	return nil
}

// getJSON fetches path and decodes the body, retrying transient failures.
// A 404 maps to NotFoundError so callers can distinguish "remote says no"
// from "remote unreachable".
func (c *client) getJSON(ctx context.Context, path string, out any) error {
	ctx, span := otel.Tracer("onec").Start(ctx, "onec.get")
	defer span.End()
	span.SetAttributes(attribute.String("http.path", path))

	op := "GET " + path
	var notFound *domain.NotFoundError
	err := retry.Do(ctx, c.withRetryLog(op), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			notFound = &domain.NotFoundError{Kind: "remote resource", ID: path}
			return nil
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote call failed")
		return &domain.RemoteUnavailableError{Op: op, Err: err}
	}
	if notFound != nil {
		return notFound
	}
	return nil
}

func (c *client) withRetryLog(op string) retry.Config {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error) {
		c.logger.Warn("remote call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return cfg
}
