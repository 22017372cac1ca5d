// Package executor runs single task invocations: it creates the execution
// log row, executes the task body, and finalizes the row with the
// success/failure/retry outcome.
package executor

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Body is one task kind's business logic. The executor does not interpret
// it beyond capturing the returned payload or the failure. Implementations
// must honor ctx cancellation for long work.
type Body interface {
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// BodyFunc adapts a function to the Body interface.
type BodyFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

func (f BodyFunc) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f(ctx, params)
}

// Registry maps a task definition's executable reference to its Body.
// New task kinds are added by registering an implementation, never by
// branching on a name inside the executor.
type Registry struct {
	mu     sync.RWMutex
	bodies map[string]Body
}

// NewRegistry returns an empty body registry.
func NewRegistry() *Registry {
	return &Registry{bodies: make(map[string]Body)}
}

// Register binds ref to body. Registering the same ref twice is an error.
func (r *Registry) Register(ref string, body Body) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bodies[ref]; exists {
		return fmt.Errorf("executor: duplicate body registration %q", ref)
	}
	r.bodies[ref] = body
	return nil
}

// Lookup resolves ref to its registered body.
func (r *Registry) Lookup(ref string) (Body, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	body, ok := r.bodies[ref]
	return body, ok
}

// Refs returns the registered references in sorted order, for status
// reporting.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.bodies))
	for ref := range r.bodies {
		refs = append(refs, ref)
	}
	slices.Sort(refs)
	return refs
}
