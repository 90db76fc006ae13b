// Package adapter is the per-agent façade: it binds an agent identity to a
// playbook catalog and an execution engine, and hands successful results to
// the sync client without coupling the caller to delivery.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"

	agerrors "github.com/cloudflair/agentlink/pkg/errors"
	"github.com/cloudflair/agentlink/pkg/engine"
	"github.com/cloudflair/agentlink/pkg/identity"
	"github.com/cloudflair/agentlink/pkg/playbook"
	"github.com/cloudflair/agentlink/pkg/sync"
)

// Runtime executes playbooks on behalf of a single agent. It holds no state
// beyond the identity and its collaborators; each call is independent.
type Runtime struct {
	id      identity.Identity
	catalog *playbook.Catalog
	engine  engine.Engine
	sync    *sync.Client
	logger  *slog.Logger

	deliveries gosync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// New creates a Runtime for the given identity, catalog, and engine.
func New(id identity.Identity, catalog *playbook.Catalog, eng engine.Engine, opts ...Option) (*Runtime, error) {
	if catalog == nil {
		return nil, errors.New("playbook catalog is required")
	}
	if eng == nil {
		return nil, errors.New("execution engine is required")
	}
	r := &Runtime{
		id:      id,
		catalog: catalog,
		engine:  eng,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// WithSyncClient enables result synchronization to the task endpoint.
// Without it, executions stay local.
func WithSyncClient(client *sync.Client) Option {
	return func(r *Runtime) { r.sync = client }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Identity returns the agent identity this runtime acts as.
func (r *Runtime) Identity() identity.Identity { return r.id }

// ListPlaybooks returns the display projection of every available playbook.
func (r *Runtime) ListPlaybooks(ctx context.Context) ([]playbook.Info, error) {
	defs, err := r.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]playbook.Info, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, def.Info())
	}
	return infos, nil
}

// ExecutePlaybook resolves the playbook, runs it through the engine, and
// returns the engine's result unchanged. On success, one sync delivery is
// dispatched asynchronously; its outcome never blocks or fails this call.
// Engine failures are surfaced as EXECUTION_FAILED and are not synchronized.
func (r *Runtime) ExecutePlaybook(ctx context.Context, playbookID string, execCtx map[string]any) (any, error) {
	def, err := r.catalog.Resolve(ctx, playbookID)
	if err != nil {
		return nil, err
	}

	result, err := r.engine.Execute(ctx, def, execCtx)
	if err != nil {
		return nil, agerrors.New(agerrors.CodeExecutionFailed, "playbook execution failed", err).
			WithContext("playbook_id", playbookID).
			WithContext("agent", r.id.Name())
	}

	if r.sync != nil {
		r.deliveries.Add(1)
		go func() {
			defer r.deliveries.Done()
			// Delivery failure is contained by the client; the side
			// channel is its log/metric, never this call's result.
			_, _ = r.sync.Deliver(ctx, r.id, playbookID, result)
		}()
	}

	return result, nil
}

// Close waits for in-flight deliveries to settle, bounded by ctx.
func (r *Runtime) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.deliveries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
