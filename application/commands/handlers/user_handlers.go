package handlers

import (
	"context"

	"go.uber.org/zap"

	"policyhub-backend/application/commands"
	"policyhub-backend/application/commands/bus"
	"policyhub-backend/application/ports"
	"policyhub-backend/application/repository"
	"policyhub-backend/application/retry"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
)

// UserRepository is the aggregate repository the user handlers write through
type UserRepository = repository.Repository[*aggregates.User]

// UserHandlers handles every user lifecycle command
type UserHandlers struct {
	repo   *UserRepository
	retry  retry.Policy
	logger *zap.Logger
}

// NewUserHandlers creates the user command handlers
func NewUserHandlers(repo *UserRepository, retryPolicy retry.Policy, logger *zap.Logger) *UserHandlers {
	return &UserHandlers{repo: repo, retry: retryPolicy, logger: logger}
}

// Register registers each user command on the bus
func (h *UserHandlers) Register(b *bus.CommandBus) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandlerFunc
	}{
		{commands.RegisterUserCommand{}, h.registerUser},
		{commands.ActivateUserCommand{}, h.activateUser},
		{commands.BlockUserCommand{}, h.blockUser},
		{commands.UnblockUserCommand{}, h.unblockUser},
		{commands.DeleteUserCommand{}, h.deleteUser},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *UserHandlers) registerUser(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.RegisterUserCommand)
	if !ok {
		return nil, wrongCommand("RegisterUserCommand", c)
	}
	userID := orNewID(cmd.UserID)
	result, err := retry.Do(ctx, h.retry, func(ctx context.Context) (bus.CommandResult, error) {
		user, err := h.repo.Create(ctx, uow, valueobjects.TenantID(cmd.TenantID), valueobjects.AggregateID(userID),
			func(u *aggregates.User) error { return u.Initialize(cmd.Email, cmd.Name) })
		if err != nil {
			return bus.CommandResult{}, err
		}
		return bus.CommandResult{AggregateID: userID, Version: user.Version()}, nil
	})
	if err != nil {
		return nil, err
	}
	h.logger.Info("User registered",
		zap.String("tenant_id", cmd.TenantID),
		zap.String("user_id", userID))
	return result, nil
}

func (h *UserHandlers) activateUser(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.ActivateUserCommand)
	if !ok {
		return nil, wrongCommand("ActivateUserCommand", c)
	}
	return h.update(ctx, uow, cmd.TenantID, cmd.UserID, (*aggregates.User).Activate)
}

func (h *UserHandlers) blockUser(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.BlockUserCommand)
	if !ok {
		return nil, wrongCommand("BlockUserCommand", c)
	}
	return h.update(ctx, uow, cmd.TenantID, cmd.UserID, func(u *aggregates.User) error {
		return u.Block(cmd.Reason)
	})
}

func (h *UserHandlers) unblockUser(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.UnblockUserCommand)
	if !ok {
		return nil, wrongCommand("UnblockUserCommand", c)
	}
	return h.update(ctx, uow, cmd.TenantID, cmd.UserID, (*aggregates.User).Unblock)
}

func (h *UserHandlers) deleteUser(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.DeleteUserCommand)
	if !ok {
		return nil, wrongCommand("DeleteUserCommand", c)
	}
	return h.update(ctx, uow, cmd.TenantID, cmd.UserID, func(u *aggregates.User) error {
		return u.MarkAsDeleted(cmd.Reason)
	})
}

func (h *UserHandlers) update(ctx context.Context, uow ports.UnitOfWork, tenant, userID string, mutate func(*aggregates.User) error) (interface{}, error) {
	result, err := retry.Do(ctx, h.retry, func(ctx context.Context) (bus.CommandResult, error) {
		user, err := h.repo.Update(ctx, uow, valueobjects.TenantID(tenant), valueobjects.AggregateID(userID), mutate)
		if err != nil {
			return bus.CommandResult{}, err
		}
		return bus.CommandResult{AggregateID: userID, Version: user.Version()}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
