package stream

import (
	"context"
	"sync"
)

// QueryHandler serves one query kind.
type QueryHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// CommandHandler serves one command action.
type CommandHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Dispatcher routes query and command frames to registered handlers, off the
// broadcast path.
type Dispatcher struct {
	mu       sync.RWMutex
	queries  map[string]QueryHandler
	commands map[string]CommandHandler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queries:  make(map[string]QueryHandler),
		commands: make(map[string]CommandHandler),
	}
}

// RegisterQuery installs a handler for a query kind.
func (d *Dispatcher) RegisterQuery(kind string, handler QueryHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries[kind] = handler
}

// RegisterCommand installs a handler for a command action.
func (d *Dispatcher) RegisterCommand(action string, handler CommandHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands[action] = handler
}

// Query runs the handler for a query kind. The bool reports whether the kind
// is known.
func (d *Dispatcher) Query(ctx context.Context, kind string, args map[string]interface{}) (interface{}, bool, error) {
	d.mu.RLock()
	handler, ok := d.queries[kind]
	d.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	result, err := handler(ctx, args)
	return result, true, err
}

// Command runs the handler for a command action.
func (d *Dispatcher) Command(ctx context.Context, action string, args map[string]interface{}) (interface{}, bool, error) {
	d.mu.RLock()
	handler, ok := d.commands[action]
	d.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	result, err := handler(ctx, args)
	return result, true, err
}
