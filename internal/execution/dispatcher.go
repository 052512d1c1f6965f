package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Handler executes one action with resolved parameters. Handlers must honor
// ctx cancellation: a step timeout cancels ctx and the result is discarded.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Dispatcher routes action names to registered handlers. The handler map is
// populated once at startup; dispatching an unregistered name fails with
// UnknownActionError rather than falling through on a raw string.
type Dispatcher struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register binds an action name to a handler. Registering a name twice is an
// error: handlers are resolved once at startup, not rebound at runtime.
func (d *Dispatcher) Register(action string, h Handler) error {
	if action == "" {
		return fmt.Errorf("action name is required")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is required", action)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[action]; exists {
		return fmt.Errorf("action %q already registered", action)
	}
	d.handlers[action] = h

	d.logger.Debug("registered action handler", zap.String("action", action))
	return nil
}

// Actions returns the registered action names, sorted.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches an action with resolved parameters.
func (d *Dispatcher) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[action]
	d.mu.RUnlock()
	if !ok {
		return nil, &UnknownActionError{Action: action}
	}
	return h(ctx, params)
}
