package mediator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	commandbus "policyhub-backend/application/commands/bus"
	"policyhub-backend/application/ports"
	querybus "policyhub-backend/application/queries/bus"
	"policyhub-backend/application/uow"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
	"policyhub-backend/pkg/observability"
)

// IMediator is the single entry point for commands and queries
type IMediator interface {
	// Send runs a command in its own unit of work and returns the handler's result
	Send(ctx context.Context, command commandbus.Command) (interface{}, error)

	// SendWithin runs a command inside a unit of work owned by the caller
	SendWithin(ctx context.Context, unit ports.UnitOfWork, command commandbus.Command) (interface{}, error)

	// Query dispatches a query and returns the result
	Query(ctx context.Context, query querybus.Query) (interface{}, error)
}

// Mediator implements the mediator pattern for CQRS
type Mediator struct {
	commandBus *commandbus.CommandBus
	queryBus   *querybus.QueryBus
	settler    uow.Settler
	sink       ports.ErrorSink
	tracer     *observability.Tracer
	logger     *zap.Logger
	behaviors  []Behavior
}

var _ IMediator = (*Mediator)(nil)

// NewMediator creates a new mediator instance. settler projects the events of
// each committed unit of work; sink and tracer may be nil.
func NewMediator(
	commandBus *commandbus.CommandBus,
	queryBus *querybus.QueryBus,
	settler uow.Settler,
	sink ports.ErrorSink,
	tracer *observability.Tracer,
	logger *zap.Logger,
) *Mediator {
	if sink == nil {
		sink = ports.NopErrorSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mediator{
		commandBus: commandBus,
		queryBus:   queryBus,
		settler:    settler,
		sink:       sink,
		tracer:     tracer,
		logger:     logger,
		behaviors:  []Behavior{},
	}
}

// Send dispatches a command through the pipeline in a fresh unit of work.
// The unit of work is committed on success and rolled back on failure.
func (m *Mediator) Send(ctx context.Context, command commandbus.Command) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unit := uow.New(m.settler, m.logger)
	result, err := m.execute(ctx, unit, command)
	if err != nil {
		unit.Rollback(ctx)
		return nil, err
	}

	if settleErr := unit.Commit(ctx); settleErr != nil {
		// the command's events are durable; the outbox processor finishes the projection
		m.report(ctx, "settle", commandbus.Name(command), settleErr)
	}
	return result, nil
}

// SendWithin dispatches a command inside a caller-owned unit of work; the caller settles it
func (m *Mediator) SendWithin(ctx context.Context, unit ports.UnitOfWork, command commandbus.Command) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, apperrors.NewInternalError("SendWithin requires a unit of work")
	}
	return m.execute(ctx, unit, command)
}

func (m *Mediator) execute(ctx context.Context, unit ports.UnitOfWork, command commandbus.Command) (interface{}, error) {
	startTime := time.Now()
	name := commandbus.Name(command)
	ctx = withMessageIDs(ctx)

	for _, behavior := range m.behaviors {
		if err := behavior.PreProcess(ctx, command); err != nil {
			m.finishCommand(ctx, command, time.Since(startTime), err)
			return nil, err
		}
	}

	var result interface{}
	err := m.tracer.TraceFunction(ctx, "command."+name, func(ctx context.Context) error {
		m.tracer.AddAnnotation(ctx, "uow_id", unit.ID())
		var err error
		result, err = m.dispatchCommand(ctx, unit, command)
		return err
	})

	m.finishCommand(ctx, command, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mediator) finishCommand(ctx context.Context, command commandbus.Command, duration time.Duration, err error) {
	for _, behavior := range m.behaviors {
		behavior.PostProcess(ctx, command, duration, err)
	}

	name := commandbus.Name(command)
	if err != nil {
		if !apperrors.IsExpected(err) {
			m.report(ctx, "command", name, err)
		}
		m.logger.Debug("Command execution failed",
			zap.String("command", name),
			zap.Error(err),
			zap.Duration("duration", duration))
		return
	}

	m.logger.Debug("Command executed successfully",
		zap.String("command", name),
		zap.Duration("duration", duration))
}

// dispatchCommand turns handler panics into internal errors
func (m *Mediator) dispatchCommand(ctx context.Context, unit ports.UnitOfWork, command commandbus.Command) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Command handler panicked",
				zap.String("command", commandbus.Name(command)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result = nil
			err = apperrors.NewInternalError(fmt.Sprintf("command %s panicked: %v", commandbus.Name(command), r))
		}
	}()
	return m.commandBus.Send(ctx, unit, command)
}

// Query dispatches a query through the pipeline
func (m *Mediator) Query(ctx context.Context, query querybus.Query) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()
	name := querybus.Name(query)

	for _, behavior := range m.behaviors {
		if err := behavior.PreProcessQuery(ctx, query); err != nil {
			m.finishQuery(ctx, query, nil, time.Since(startTime), err)
			return nil, err
		}
	}

	var result interface{}
	err := m.tracer.TraceFunction(ctx, "query."+name, func(ctx context.Context) error {
		var err error
		result, err = m.dispatchQuery(ctx, query)
		return err
	})

	m.finishQuery(ctx, query, result, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Mediator) finishQuery(ctx context.Context, query querybus.Query, result interface{}, duration time.Duration, err error) {
	for _, behavior := range m.behaviors {
		behavior.PostProcessQuery(ctx, query, result, duration, err)
	}
	if err != nil && !apperrors.IsExpected(err) {
		m.report(ctx, "query", querybus.Name(query), err)
	}
}

func (m *Mediator) dispatchQuery(ctx context.Context, query querybus.Query) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Query handler panicked",
				zap.String("query", querybus.Name(query)),
				zap.Any("panic", r),
				zap.Stack("stack"))
			result = nil
			err = apperrors.NewInternalError(fmt.Sprintf("query %s panicked: %v", querybus.Name(query), r))
		}
	}()
	return m.queryBus.Ask(ctx, query)
}

// report hands an unexpected failure to the error sink
func (m *Mediator) report(ctx context.Context, operation, requestType string, err error) {
	meta := common.ExtractMetadata(ctx)
	failure := ports.FailureDescriptor{
		Operation:     operation,
		RequestType:   requestType,
		TenantID:      meta.TenantID,
		CorrelationID: meta.CorrelationID,
		ErrorType:     string(apperrors.TypeOf(err)),
		Message:       err.Error(),
		OccurredAt:    time.Now().UTC(),
	}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		failure.Details = appErr.Details
	}
	m.logger.Error("Unexpected failure",
		zap.String("operation", operation),
		zap.String("request_type", requestType),
		zap.String("error_type", failure.ErrorType),
		zap.String("correlation_id", failure.CorrelationID),
		zap.Error(err))
	m.sink.Report(ctx, failure)
}

// withMessageIDs gives every command its own causation id and starts a
// correlation when the caller did not bring one
func withMessageIDs(ctx context.Context) context.Context {
	commandID := uuid.New().String()
	if _, ok := common.GetCorrelationID(ctx); !ok {
		ctx = common.WithCorrelationID(ctx, commandID)
	}
	return common.WithCausationID(ctx, commandID)
}

// AddBehavior adds a behavior to the mediator pipeline. Not safe to call
// while requests are in flight.
func (m *Mediator) AddBehavior(behavior Behavior) {
	m.behaviors = append(m.behaviors, behavior)
	m.logger.Info("Added behavior to mediator pipeline",
		zap.String("behavior", fmt.Sprintf("%T", behavior)))
}
