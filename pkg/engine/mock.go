package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudflair/agentlink/pkg/playbook"
)

// Call records a single invocation of a mock engine.
type Call struct {
	PlaybookID string
	Context    map[string]any
}

// MockEngine is a testing implementation of Engine.
type MockEngine struct {
	Result      any
	Err         error
	ExecuteFunc func(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error)

	mu    sync.Mutex
	calls []Call
}

// Execute returns the scripted result, error, or delegates to ExecuteFunc.
func (m *MockEngine) Execute(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{PlaybookID: def.ID, Context: execCtx})
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, def, execCtx)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockEngine) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// FailingEngine always fails.
type FailingEngine struct {
	Err error
}

// Execute implements Engine.
func (f *FailingEngine) Execute(ctx context.Context, def playbook.Definition, execCtx map[string]any) (any, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock engine error")
	}
	return nil, f.Err
}
