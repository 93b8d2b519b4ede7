// Package dispatch routes received wire messages to at most one handler per
// variant. I/O goroutines only enqueue; Dispatch runs on the game thread
// during the poll step.
package dispatch

import (
	"sync"

	"deepdelve/netcore/internal/logging"
	"deepdelve/netcore/internal/wire"
)

// Dispatcher maps a message variant onto its single registered handler.
// Registering a handler for a variant replaces any previous one.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]func(wire.Message)
	logger   *logging.Logger
}

// NewDispatcher builds an empty dispatcher.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.L()
	}
	return &Dispatcher{
		handlers: make(map[string]func(wire.Message)),
		logger:   logger,
	}
}

// Register installs a typed handler for the variant of T, replacing any
// existing handler for that variant.
func Register[T wire.Message](d *Dispatcher, handler func(T)) {
	if d == nil || handler == nil {
		return
	}
	var zero T
	d.mu.Lock()
	d.handlers[zero.Type()] = func(msg wire.Message) {
		if typed, ok := msg.(T); ok {
			handler(typed)
		}
	}
	d.mu.Unlock()
}

// Unregister removes the handler for a variant tag if one is installed.
func (d *Dispatcher) Unregister(msgType string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.handlers, msgType)
	d.mu.Unlock()
}

// Dispatch invokes the handler registered for the message's variant. Unhandled
// variants are logged and dropped. Must only be called from the game thread.
func (d *Dispatcher) Dispatch(msg wire.Message) {
	if d == nil || msg == nil {
		return
	}
	d.mu.RLock()
	handler := d.handlers[msg.Type()]
	d.mu.RUnlock()
	if handler == nil {
		d.logger.Info("no handler registered for message variant", logging.String("variant", msg.Type()))
		return
	}
	handler(msg)
}
