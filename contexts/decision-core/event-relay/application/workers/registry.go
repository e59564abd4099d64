package workers

import (
	"sync"

	domainerrors "consilium/contexts/decision-core/event-relay/domain/errors"
	"consilium/contexts/decision-core/event-relay/ports"
)

// HandlerRegistry maps event types to handlers. Registration happens during
// wiring; lookups are concurrent-safe for the dispatcher.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ports.Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]ports.Handler)}
}

func (r *HandlerRegistry) Register(eventType string, handler ports.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = handler
}

func (r *HandlerRegistry) Resolve(eventType string) (ports.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[eventType]
	if !ok {
		return nil, domainerrors.ErrUnknownEventType
	}
	return handler, nil
}

// EventTypes returns the registered types, for startup logging.
func (r *HandlerRegistry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	return types
}
