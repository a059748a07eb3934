package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Handler executes one workflow phase for a case. The returned map is
// persisted as the phase output and summarized into the phase state.
type Handler interface {
	Handle(ctx context.Context, caseID string, payload map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, caseID string, payload map[string]any) (map[string]any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, caseID string, payload map[string]any) (map[string]any, error) {
	return f(ctx, caseID, payload)
}

// Registry maps phase names to handlers. Populate it once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds the handler for a phase.
func (r *Registry) Register(phase string, h Handler) error {
	if phase == "" {
		return fmt.Errorf("register phase: empty name")
	}
	if h == nil {
		return fmt.Errorf("register phase %q: nil handler", phase)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[phase]; exists {
		return fmt.Errorf("register phase %q: %w", phase, ErrDuplicatePhase)
	}
	r.handlers[phase] = h
	r.order = append(r.order, phase)
	return nil
}

// Lookup returns the handler registered for phase.
func (r *Registry) Lookup(phase string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[phase]
	return h, ok
}

// Names returns the registered phases in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}
