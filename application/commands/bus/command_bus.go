package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"policyhub-backend/application/ports"
)

// Command represents a command that changes state
type Command interface {
	Validate() error
}

// CommandHandler handles a specific command type inside a unit of work
type CommandHandler interface {
	Handle(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error)
}

// CommandBus dispatches commands to their handlers
type CommandBus struct {
	handlers map[reflect.Type]CommandHandler
	pipeline *Pipeline
	mu       sync.RWMutex
}

// NewCommandBus creates a new command bus. Middleware wraps every handler
// at registration time.
func NewCommandBus(middlewares ...Middleware) *CommandBus {
	return &CommandBus{
		handlers: make(map[reflect.Type]CommandHandler),
		pipeline: NewPipeline(middlewares...),
	}
}

// Register registers a handler for a command type
func (b *CommandBus) Register(cmdType Command, handler CommandHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(cmdType)
	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, Name(cmdType))
	}

	b.handlers[t] = b.pipeline.Execute(handler)
	return nil
}

// Send dispatches a command to its handler
func (b *CommandBus) Send(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: nil command", ErrHandlerNotFound)
	}

	b.mu.RLock()
	handler, exists := b.handlers[reflect.TypeOf(cmd)]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, Name(cmd))
	}

	return handler.Handle(ctx, uow, cmd)
}

// Handles reports whether a handler is registered for cmd's type
func (b *CommandBus) Handles(cmd Command) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[reflect.TypeOf(cmd)]
	return ok
}

// Name returns the short type name of a command, without pointer or package
func Name(cmd interface{}) string {
	t := reflect.TypeOf(cmd)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Middleware defines command middleware
type Middleware func(next CommandHandler) CommandHandler

// CommandHandlerFunc is an adapter to allow functions to be used as handlers
type CommandHandlerFunc func(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error)

// Handle implements CommandHandler
func (f CommandHandlerFunc) Handle(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
	return f(ctx, uow, cmd)
}

// LoggingMiddleware logs command execution
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next CommandHandler) CommandHandler {
		return CommandHandlerFunc(func(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
			cmdType := Name(cmd)
			fields := []zap.Field{zap.String("type", cmdType)}
			if uow != nil {
				fields = append(fields, zap.String("uow_id", uow.ID()))
			}
			logger.Debug("Executing command", fields...)

			result, err := next.Handle(ctx, uow, cmd)
			if err != nil {
				logger.Debug("Command handler returned error", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("Command handler succeeded", fields...)
			}

			return result, err
		})
	}
}

// ValidationMiddleware ensures commands are valid
func ValidationMiddleware() Middleware {
	return func(next CommandHandler) CommandHandler {
		return CommandHandlerFunc(func(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
			if err := cmd.Validate(); err != nil {
				return nil, fmt.Errorf("validate %s: %w", Name(cmd), err)
			}
			return next.Handle(ctx, uow, cmd)
		})
	}
}

// CommandResult is what a successful command reports back
type CommandResult struct {
	AggregateID   string `json:"aggregate_id"`
	Version       int    `json:"version"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Pipeline chains multiple middleware together
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline(middlewares ...Middleware) *Pipeline {
	return &Pipeline{
		middlewares: middlewares,
	}
}

// Execute runs the command through the pipeline
func (p *Pipeline) Execute(handler CommandHandler) CommandHandler {
	// Apply middleware in reverse order
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		handler = p.middlewares[i](handler)
	}
	return handler
}

// Errors
var (
	ErrHandlerNotFound  = errors.New("command handler not found")
	ErrDuplicateHandler = errors.New("command handler already registered")
)
