package step

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sarthakpati/pytorch-lightning-bolts/internal/pipeline"
)

// Outcome reports what a handler did. ExitCode is only meaningful for
// command-running steps; Message is the one-line summary recorded in the
// step result.
type Outcome struct {
	ExitCode int
	Message  string
}

// Handler executes one step kind. A non-nil error means the step could not
// do its work at all; a command that ran and failed comes back as a non-zero
// ExitCode with a nil error.
type Handler func(ctx context.Context, sc *Context, st pipeline.Step) (Outcome, error)

// Registry maintains known step handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[pipeline.StepType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[pipeline.StepType]Handler{}}
}

// Register installs a step handler. Returns an error if the kind already
// exists.
func (r *Registry) Register(kind pipeline.StepType, handler Handler) error {
	if kind == "" {
		return fmt.Errorf("step: kind is required")
	}
	if handler == nil {
		return fmt.Errorf("step: handler is required for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("step: %s already registered", kind)
	}
	r.handlers[kind] = handler
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind pipeline.StepType, handler Handler) {
	if err := r.Register(kind, handler); err != nil {
		panic(err)
	}
}

// Resolve looks up the handler for a step kind.
func (r *Registry) Resolve(kind pipeline.StepType) (Handler, error) {
	r.mu.RLock()
	handler, ok := r.handlers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("step: unknown kind %s", kind)
	}
	return handler, nil
}

// Kinds returns a sorted list of registered step kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	return kinds
}

// Builtin returns a registry loaded with every builtin step kind.
func Builtin() *Registry {
	registry := NewRegistry()
	registry.MustRegister(pipeline.StepCheckout, checkoutHandler)
	registry.MustRegister(pipeline.StepRun, runHandler)
	registry.MustRegister(pipeline.StepRestoreCache, restoreCacheHandler)
	registry.MustRegister(pipeline.StepSaveCache, saveCacheHandler)
	registry.MustRegister(pipeline.StepStoreArtifacts, storeArtifactsHandler)
	registry.MustRegister(pipeline.StepPersistWorkspace, persistWorkspaceHandler)
	registry.MustRegister(pipeline.StepAttachWorkspace, attachWorkspaceHandler)
	return registry
}
