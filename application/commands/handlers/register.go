package handlers

import (
	"go.uber.org/zap"

	"policyhub-backend/application/commands"
	"policyhub-backend/application/commands/bus"
	"policyhub-backend/application/retry"
)

// RegisterAll wires every policy and user command handler onto the bus
func RegisterAll(b *bus.CommandBus, policies *PolicyRepository, users *UserRepository, retryPolicy retry.Policy, logger *zap.Logger) error {
	policyHandlers := []struct {
		cmd     bus.Command
		handler bus.CommandHandler
	}{
		{commands.IssuePolicyCommand{}, NewIssuePolicyHandler(policies, retryPolicy, logger)},
		{commands.RenewPolicyCommand{}, NewRenewPolicyHandler(policies, retryPolicy, logger)},
		{commands.AdjustPolicyCommand{}, NewAdjustPolicyHandler(policies, retryPolicy, logger)},
		{commands.CancelPolicyCommand{}, NewCancelPolicyHandler(policies, retryPolicy, logger)},
		{commands.CorrectPolicyTransactionCommand{}, NewCorrectPolicyTransactionHandler(policies, retryPolicy, logger)},
		{commands.DeletePolicyCommand{}, NewDeletePolicyHandler(policies, retryPolicy, logger)},
	}
	for _, r := range policyHandlers {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return NewUserHandlers(users, retryPolicy, logger).Register(b)
}
