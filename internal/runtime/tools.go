package runtime

import (
	"context"
	"fmt"
	"sync"
)

// ToolHandler invokes one external tool (MCP- or host-subprocess-backed)
// by name, given its call arguments.
type ToolHandler func(ctx context.Context, args []Value) (Value, error)

// ToolRegistry resolves CALL_TOOL targets that aren't backed by an
// in-language `tool Name { fn call(...) }` method. Agentproc/hostproc and
// mcpclient each register their exposed tools here at VM construction
// time.
type ToolRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{handlers: map[string]ToolHandler{}}
}

// Register binds name to handler, overwriting any prior registration —
// callers are expected to register once at startup from manifest-driven
// tool discovery.
func (r *ToolRegistry) Register(name string, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

func (r *ToolRegistry) Call(ctx context.Context, name string, args []Value) (Value, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Nil(), newErr(ErrCall, "unknown tool %q", name)
	}
	v, err := handler(ctx, args)
	if err != nil {
		return Nil(), wrapErr(ErrCall, err, "tool %q call failed", name)
	}
	return v, nil
}

// Names returns every registered tool name, used by the debug server.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}
	return out
}

func (r *ToolRegistry) String() string {
	return fmt.Sprintf("ToolRegistry(%d tools)", len(r.handlers))
}
