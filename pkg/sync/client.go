// Package sync delivers signed playbook execution results to the CloudFlair
// task endpoint. Delivery is best effort: bounded retries, then the failure
// is reported (and optionally queued) without unwinding the execution.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudflair/agentlink/pkg/errors"
	"github.com/cloudflair/agentlink/pkg/identity"
	"github.com/cloudflair/agentlink/pkg/resilience"
)

// FailureSink receives envelopes whose delivery attempts were exhausted.
// Implemented by the outbox; optional.
type FailureSink interface {
	Enqueue(ctx context.Context, agent, playbookID string, result json.RawMessage, lastErr string) error
}

// Outcome reports how a delivery went.
type Outcome struct {
	DeliveryID string
	Delivered  bool
	Attempts   int
	Queued     bool
}

// Client posts signed sync envelopes to a single task endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	retry      resilience.RetryConfig
	sink       FailureSink
	logger     *slog.Logger

	// lastTS guarantees strictly increasing signed timestamps, so two
	// attempts inside the same wall-clock second never reuse a signature.
	mu     gosync.Mutex
	lastTS int64
}

// Option configures the client.
type Option func(*Client)

// New creates a sync client for the given endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithRetryConfig overrides the retry/backoff policy.
func WithRetryConfig(retry resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = retry }
}

// WithFailureSink queues exhausted deliveries for later redelivery.
func WithFailureSink(sink FailureSink) Option {
	return func(c *Client) { c.sink = sink }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Deliver serializes the execution result into a signed envelope and posts
// it. Each attempt is framed and signed afresh; a signed envelope is never
// replayed. All attempts failing yields a DELIVERY_FAILED error, which the
// caller treats as a side-channel report, not an execution failure.
func (c *Client) Deliver(ctx context.Context, id identity.Identity, playbookID string, result any) (Outcome, error) {
	initMetrics()

	resultRaw, err := json.Marshal(result)
	if err != nil {
		return Outcome{}, errors.New(errors.CodeInvalidInput, "serialize execution result", err).
			WithContext("playbook_id", playbookID)
	}

	outcome := Outcome{DeliveryID: uuid.NewString()}
	ctx, span := otel.Tracer("agentlink/sync").Start(ctx, "sync.deliver",
		trace.WithAttributes(
			attribute.String("agent", id.Name()),
			attribute.String("playbook_id", playbookID),
			attribute.String("delivery_id", outcome.DeliveryID),
		),
	)
	defer span.End()

	retry := c.retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("sync.deliver.retry",
			slog.String("delivery_id", outcome.DeliveryID),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	start := time.Now()
	deliverErr := retry.Do(ctx, func() error {
		outcome.Attempts++
		return c.attempt(ctx, id, playbookID, resultRaw, outcome.DeliveryID)
	})
	latencyMs := float64(time.Since(start).Seconds() * 1000)

	attemptCounter.Add(ctx, int64(outcome.Attempts), metric.WithAttributes(
		attribute.String("agent", id.Name()),
	))
	deliveryLatencyMs.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("agent", id.Name()),
	))

	if deliverErr == nil {
		outcome.Delivered = true
		c.logger.Info("sync.deliver.ok",
			slog.String("delivery_id", outcome.DeliveryID),
			slog.String("agent", id.Name()),
			slog.String("playbook_id", playbookID),
			slog.Int("attempts", outcome.Attempts),
		)
		return outcome, nil
	}

	failureCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", id.Name()),
	))
	span.RecordError(deliverErr)

	if c.sink != nil {
		if err := c.sink.Enqueue(ctx, id.Name(), playbookID, resultRaw, deliverErr.Error()); err != nil {
			c.logger.Error("sync.outbox.enqueue.error",
				slog.String("delivery_id", outcome.DeliveryID),
				slog.String("error", err.Error()),
			)
		} else {
			outcome.Queued = true
		}
	}

	c.logger.Warn("sync.deliver.failed",
		slog.String("delivery_id", outcome.DeliveryID),
		slog.String("agent", id.Name()),
		slog.String("playbook_id", playbookID),
		slog.Int("attempts", outcome.Attempts),
		slog.Bool("queued", outcome.Queued),
		slog.String("error", deliverErr.Error()),
	)
	return outcome, errors.New(errors.CodeDeliveryFailed, "sync delivery exhausted", deliverErr).
		WithContext("playbook_id", playbookID).
		WithContext("attempts", outcome.Attempts)
}

// attempt frames, signs, and posts one envelope.
func (c *Client) attempt(ctx context.Context, id identity.Identity, playbookID string, resultRaw json.RawMessage, deliveryID string) error {
	body, err := encodeBody(id.Name(), playbookID, resultRaw)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "encode sync envelope", err)
	}

	timestamp := c.freshTimestamp()
	signature := Sign(id.Secret().Bytes(), id.Name(), timestamp, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "build sync request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAgentID, id.Name())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderDeliveryID, deliveryID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.New(errors.CodeDeliveryFailed, "post sync envelope", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(errors.CodeDeliveryFailed, fmt.Sprintf("task endpoint returned %s", resp.Status), nil).
			WithRecoverable(true).
			WithContext("status", resp.StatusCode).
			WithContext("body", string(detail))
	}
	return nil
}

// freshTimestamp returns the current Unix second, bumped past the previous
// signed timestamp when two attempts land inside the same second.
func (c *Client) freshTimestamp() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Unix()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return strconv.FormatInt(ts, 10)
}

var (
	metricsOnce       gosync.Once
	attemptCounter    metric.Int64Counter
	failureCounter    metric.Int64Counter
	deliveryLatencyMs metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("agentlink/sync")
		attemptCounter, _ = meter.Int64Counter("agentlink.sync.deliver.attempts")
		failureCounter, _ = meter.Int64Counter("agentlink.sync.deliver.failures")
		deliveryLatencyMs, _ = meter.Float64Histogram("agentlink.sync.deliver.latency_ms")
	})
}
