package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"policyhub-backend/application/ports"
)

// Query represents a read-only query
type Query interface {
	Validate() error
}

// QueryHandler handles a specific query type
type QueryHandler interface {
	Handle(ctx context.Context, query Query) (interface{}, error)
}

// QueryBus dispatches queries to their handlers
type QueryBus struct {
	handlers    map[reflect.Type]QueryHandler
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewQueryBus creates a new query bus
func NewQueryBus(middlewares ...Middleware) *QueryBus {
	return &QueryBus{
		handlers:    make(map[reflect.Type]QueryHandler),
		middlewares: middlewares,
	}
}

// Register registers a handler for a query type
func (b *QueryBus) Register(queryType Query, handler QueryHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(queryType)
	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, Name(queryType))
	}

	for i := len(b.middlewares) - 1; i >= 0; i-- {
		handler = b.middlewares[i](handler)
	}
	b.handlers[t] = handler
	return nil
}

// Ask dispatches a query to its handler and returns the result
func (b *QueryBus) Ask(ctx context.Context, query Query) (interface{}, error) {
	if query == nil {
		return nil, fmt.Errorf("%w: nil query", ErrHandlerNotFound)
	}
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", Name(query), err)
	}

	b.mu.RLock()
	handler, exists := b.handlers[reflect.TypeOf(query)]
	b.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, Name(query))
	}

	return handler.Handle(ctx, query)
}

// Name returns the short type name of a query
func Name(query interface{}) string {
	t := reflect.TypeOf(query)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Middleware defines query middleware
type Middleware func(next QueryHandler) QueryHandler

// QueryHandlerFunc is an adapter to allow functions to be used as handlers
type QueryHandlerFunc func(ctx context.Context, query Query) (interface{}, error)

// Handle implements QueryHandler
func (f QueryHandlerFunc) Handle(ctx context.Context, query Query) (interface{}, error) {
	return f(ctx, query)
}

// MetricsMiddleware records the duration and outcome of every query
func MetricsMiddleware(metrics ports.Metrics) Middleware {
	return func(next QueryHandler) QueryHandler {
		return QueryHandlerFunc(func(ctx context.Context, query Query) (interface{}, error) {
			started := time.Now()
			result, err := next.Handle(ctx, query)

			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			metrics.RequestHandled("query", Name(query), outcome, time.Since(started))
			return result, err
		})
	}
}

// Errors
var (
	ErrHandlerNotFound  = errors.New("query handler not found")
	ErrDuplicateHandler = errors.New("query handler already registered")
)
