// Package engine defines the playbook execution capability consumed by
// adapter runtimes. The interpreter itself lives outside this module; the
// core depends only on this contract.
package engine

import (
	"context"

	"github.com/cloudflair/agentlink/pkg/playbook"
)

// Engine executes a resolved playbook definition against a caller-supplied
// context mapping and returns a structured result. The result must be
// JSON-serializable so it can be framed and signed for sync delivery.
type Engine interface {
	Execute(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error)
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error)

// Execute implements Engine.
func (f Func) Execute(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error) {
	return f(ctx, def, execCtx)
}
