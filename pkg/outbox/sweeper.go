package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	gosync "sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudflair/agentlink/pkg/identity"
	"github.com/cloudflair/agentlink/pkg/sync"
)

// Deliverer posts one signed envelope. Satisfied by *sync.Client. The
// deliverer used for redelivery must not enqueue back into the same store,
// or failed entries would be duplicated on every sweep.
type Deliverer interface {
	Deliver(ctx context.Context, id identity.Identity, playbookID string, result any) (sync.Outcome, error)
}

// IdentityResolver maps an agent name back to its full identity so queued
// envelopes can be re-signed with the agent's current secret.
type IdentityResolver func(agent string) (identity.Identity, bool)

// SweeperConfig bounds a redelivery sweep.
type SweeperConfig struct {
	// Interval between sweeps. Zero disables the background loop.
	Interval time.Duration
	// Timeout per sweep. Zero means no per-sweep deadline.
	Timeout time.Duration
	// Batch is the max entries redelivered per sweep.
	Batch int
	// MaxAttempts prunes entries that failed this many redeliveries.
	MaxAttempts int
	// MaxAge prunes entries older than this. Zero disables age pruning.
	MaxAge time.Duration
}

// DefaultSweeperConfig returns the production sweep bounds.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		Batch:       50,
		MaxAttempts: 10,
		MaxAge:      24 * time.Hour,
	}
}

// SweepStats summarizes one sweep.
type SweepStats struct {
	Redelivered int
	Failed      int
	Skipped     int
	Pruned      int
}

// Sweeper drains the outbox on an interval, re-signing each entry with the
// agent's current identity.
type Sweeper struct {
	store   *Store
	deliver Deliverer
	resolve IdentityResolver
	config  SweeperConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper over the store.
func NewSweeper(store *Store, deliver Deliverer, resolve IdentityResolver, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Batch <= 0 {
		config.Batch = DefaultSweeperConfig().Batch
	}
	return &Sweeper{
		store:   store,
		deliver: deliver,
		resolve: resolve,
		config:  config,
		logger:  logger,
	}
}

// Start launches the background sweep loop. A zero interval disables it.
func (s *Sweeper) Start() {
	if s.config.Interval <= 0 {
		s.logger.Info("outbox.sweeper.disabled",
			slog.Duration("interval", s.config.Interval),
		)
		return
	}
	if s.cancel != nil {
		s.Stop()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		s.logger.Info("outbox.sweeper.start",
			slog.Duration("interval", s.config.Interval),
			slog.Int("batch", s.config.Batch),
		)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("outbox.sweeper.stop")
				return
			case <-ticker.C:
				sweepCtx := ctx
				var cancelSweep context.CancelFunc
				if s.config.Timeout > 0 {
					sweepCtx, cancelSweep = context.WithTimeout(ctx, s.config.Timeout)
				}
				if _, err := s.SweepOnce(sweepCtx); err != nil {
					s.logger.Warn("outbox.sweep.error",
						slog.String("error", err.Error()),
					)
				}
				if cancelSweep != nil {
					cancelSweep()
				}
			}
		}
	}()
}

// Stop halts the background loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// SweepOnce redelivers up to the configured batch of queued entries, then
// prunes entries past the attempt or age bounds.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	initSweepMetrics()
	ctx, span := otel.Tracer("agentlink/outbox").Start(ctx, "outbox.sweep",
		trace.WithAttributes(attribute.Int("batch", s.config.Batch)),
	)
	defer span.End()

	start := time.Now()
	var stats SweepStats

	entries, err := s.store.Pending(ctx, s.config.Batch)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		id, ok := s.resolve(entry.Agent)
		if !ok {
			stats.Skipped++
			if err := s.store.MarkAttempt(ctx, entry.ID, "agent identity not resolvable"); err != nil {
				s.logger.Warn("outbox.mark.error",
					slog.String("entry_id", entry.ID),
					slog.String("error", err.Error()),
				)
			}
			s.logger.Warn("outbox.redeliver.skipped",
				slog.String("entry_id", entry.ID),
				slog.String("agent", entry.Agent),
			)
			continue
		}

		// Deliver re-frames and re-signs, so the entry goes out with a
		// fresh timestamp under the agent's current secret.
		_, deliverErr := s.deliver.Deliver(ctx, id, entry.PlaybookID, json.RawMessage(entry.Result))
		if deliverErr != nil {
			stats.Failed++
			if err := s.store.MarkAttempt(ctx, entry.ID, deliverErr.Error()); err != nil {
				s.logger.Warn("outbox.mark.error",
					slog.String("entry_id", entry.ID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		stats.Redelivered++
		if err := s.store.Delete(ctx, entry.ID); err != nil {
			s.logger.Warn("outbox.delete.error",
				slog.String("entry_id", entry.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	pruned, err := s.store.Prune(ctx, s.config.MaxAttempts, s.config.MaxAge)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}
	stats.Pruned = pruned

	durationMs := float64(time.Since(start).Seconds() * 1000)
	sweepCounter.Add(ctx, 1)
	redeliveredCounter.Add(ctx, int64(stats.Redelivered))
	sweepLatencyMs.Record(ctx, durationMs)
	if stats.Failed > 0 {
		sweepFailCounter.Add(ctx, int64(stats.Failed))
	}

	s.logger.Info("outbox.sweep.complete",
		slog.Int("redelivered", stats.Redelivered),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("pruned", stats.Pruned),
		slog.Float64("duration_ms", durationMs),
	)
	return stats, nil
}

var (
	sweepMetricsOnce   gosync.Once
	sweepCounter       metric.Int64Counter
	redeliveredCounter metric.Int64Counter
	sweepFailCounter   metric.Int64Counter
	sweepLatencyMs     metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("agentlink/outbox")
		sweepCounter, _ = meter.Int64Counter("agentlink.outbox.sweeps")
		redeliveredCounter, _ = meter.Int64Counter("agentlink.outbox.redelivered")
		sweepFailCounter, _ = meter.Int64Counter("agentlink.outbox.redeliver.failures")
		sweepLatencyMs, _ = meter.Float64Histogram("agentlink.outbox.sweep.latency_ms")
	})
}
