package pubsub

import (
	"context"
	"sort"
	"sync"
)

// Handler processes the data of an envelope. The returned value is handed
// back to direct callers of Server.HandleMessage.
type Handler func(ctx context.Context, data map[string]any) (any, error)

// HandlerRegistry resolves a pattern to its handler. It is owned by the host
// application; the transport only reads it.
type HandlerRegistry interface {
	HandlerByPattern(pattern string) (Handler, bool)
}

// Handlers is a concurrency-safe HandlerRegistry.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlers() *Handlers {
	return &Handlers{handlers: map[string]Handler{}}
}

// Handle registers h for pattern, replacing any previous handler.
func (r *Handlers) Handle(pattern string, h Handler) *Handlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[string]Handler{}
	}
	r.handlers[pattern] = h
	return r
}

func (r *Handlers) HandlerByPattern(pattern string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[pattern]
	return h, ok && h != nil
}

func (r *Handlers) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
