package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
)

type pingCommand struct {
	Target string
}

func (c pingCommand) Validate() error {
	if c.Target == "" {
		return errors.New("target is required")
	}
	return nil
}

type otherCommand struct{}

func (otherCommand) Validate() error { return nil }

func echoHandler() CommandHandler {
	return CommandHandlerFunc(func(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
		return CommandResult{AggregateID: cmd.(pingCommand).Target, Version: 1}, nil
	})
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	b := NewCommandBus()
	require.NoError(t, b.Register(pingCommand{}, echoHandler()))

	err := b.Register(pingCommand{}, echoHandler())

	assert.ErrorIs(t, err, ErrDuplicateHandler)
}

func TestSendDispatchesByType(t *testing.T) {
	b := NewCommandBus(ValidationMiddleware(), LoggingMiddleware(zap.NewNop()))
	require.NoError(t, b.Register(pingCommand{}, echoHandler()))

	result, err := b.Send(context.Background(), nil, pingCommand{Target: "p-1"})

	require.NoError(t, err)
	assert.Equal(t, CommandResult{AggregateID: "p-1", Version: 1}, result)
	assert.True(t, b.Handles(pingCommand{}))
	assert.False(t, b.Handles(otherCommand{}))
}

func TestSendWithoutHandler(t *testing.T) {
	b := NewCommandBus()

	_, err := b.Send(context.Background(), nil, otherCommand{})

	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestValidationMiddlewareStopsInvalidCommands(t *testing.T) {
	called := false
	b := NewCommandBus(ValidationMiddleware())
	require.NoError(t, b.Register(pingCommand{}, CommandHandlerFunc(
		func(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
			called = true
			return nil, nil
		})))

	_, err := b.Send(context.Background(), nil, pingCommand{})

	assert.Error(t, err)
	assert.False(t, called)
}

func TestPipelineOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next CommandHandler) CommandHandler {
			return CommandHandlerFunc(func(ctx context.Context, uow ports.UnitOfWork, cmd Command) (interface{}, error) {
				order = append(order, name)
				return next.Handle(ctx, uow, cmd)
			})
		}
	}
	handler := NewPipeline(tag("outer"), tag("inner")).Execute(echoHandler())

	_, err := handler.Handle(context.Background(), nil, pingCommand{Target: "x"})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestName(t *testing.T) {
	assert.Equal(t, "pingCommand", Name(pingCommand{}))
	assert.Equal(t, "pingCommand", Name(&pingCommand{}))
	assert.Equal(t, "<nil>", Name(nil))
}
