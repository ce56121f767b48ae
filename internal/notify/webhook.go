// Package notify pushes completion notifications to interested listeners,
// e.g. a supervisor dashboard that wants to know the moment a batch is done.
// Notifications are best-effort; the ledger in Postgres is authoritative.
package notify

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
	"github.com/stitchflow/stitchflow/internal/lifecycle"
	"github.com/stitchflow/stitchflow/pkg/retry"
)

// webhookBody is the JSON posted to the configured URL.
type webhookBody struct {
	TaskID            string    `json:"task_id"`
	WorkerID          string    `json:"worker_id,omitempty"`
	ProductID         string    `json:"product_id"`
	CompletedQuantity int       `json:"completed_quantity"`
	CompletedAt       time.Time `json:"completed_at"`
}

// Webhook posts a JSON notification on every completion.
type Webhook struct {
	url    string
	client *http.Client
	retry  retry.Config
	logger *slog.Logger
}

// Option configures a Webhook.
type Option func(*Webhook)

func WithHTTPClient(c *http.Client) Option { return func(w *Webhook) { w.client = c } }
func WithRetry(cfg retry.Config) Option    { return func(w *Webhook) { w.retry = cfg } }
func WithLogger(l *slog.Logger) Option     { return func(w *Webhook) { w.logger = l } }

// NewWebhook creates a Webhook notifier posting to url.
func NewWebhook(url string, opts ...Option) *Webhook {
	w := &Webhook{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TaskCompleted posts the notification. Failures are logged, never returned:
// a dashboard being down must not affect floor operations.
func (w *Webhook) TaskCompleted(ctx context.Context, task *domain.Task) {
	ctx, span := otel.Tracer("notify").Start(ctx, "notify.webhook")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", task.ID))

	body := webhookBody{
		TaskID:            task.ID,
		ProductID:         task.ProductID,
		CompletedQuantity: task.CompletedQuantity,
	}
	if task.WorkerID != nil {
		body.WorkerID = *task.WorkerID
	}
	if task.CompletedAt != nil {
		body.CompletedAt = *task.CompletedAt
	}

	payload, err := json.Marshal(body)
	if err != nil {
		w.logger.Error("failed to marshal webhook body", slog.String("error", err.Error()))
		return
	}

	err = retry.Do(ctx, w.retry, func() error {
		return w.post(ctx, payload)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook delivery failed")
		w.logger.Error("completion webhook failed",
			slog.String("task_id", task.ID),
			slog.String("url", w.url),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("completion webhook delivered", slog.String("task_id", task.ID))
}

func (w *Webhook) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call to %s: %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook %s returned status %d", w.url, resp.StatusCode)
	}
	return nil
}

// Multi fans a completion out to several notifiers in order.
type Multi []lifecycle.CompletionNotifier

// TaskCompleted notifies every member. Members are responsible for their own
// error handling; a slow member delays the ones after it.
func (m Multi) TaskCompleted(ctx context.Context, task *domain.Task) {
	for _, n := range m {
		n.TaskCompleted(ctx, task)
	}
}

var (
	_ lifecycle.CompletionNotifier = (*Webhook)(nil)
	_ lifecycle.CompletionNotifier = (Multi)(nil)
)
