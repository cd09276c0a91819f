package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policyhub-backend/application/commands"
	"policyhub-backend/application/commands/bus"
	"policyhub-backend/application/ports"
	"policyhub-backend/application/repository"
	"policyhub-backend/application/retry"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
)

// PolicyRepository is the aggregate repository the policy handlers write through
type PolicyRepository = repository.Repository[*aggregates.Policy]

// policyWriter brackets one repository call with the concurrency retry policy.
// Each attempt reloads the aggregate, so the mutation is re-decided on fresh state.
type policyWriter struct {
	repo   *PolicyRepository
	retry  retry.Policy
	logger *zap.Logger
}

func (w policyWriter) update(ctx context.Context, uow ports.UnitOfWork, tenant, policyID, txID string, mutate func(*aggregates.Policy) error) (bus.CommandResult, error) {
	return retry.Do(ctx, w.retry, func(ctx context.Context) (bus.CommandResult, error) {
		policy, err := w.repo.Update(ctx, uow, valueobjects.TenantID(tenant), valueobjects.AggregateID(policyID), mutate)
		if err != nil {
			return bus.CommandResult{}, err
		}
		return bus.CommandResult{AggregateID: policyID, Version: policy.Version(), TransactionID: txID}, nil
	})
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func wrongCommand(want string, got bus.Command) error {
	return fmt.Errorf("handler for %s received %s", want, bus.Name(got))
}

// IssuePolicyHandler handles IssuePolicyCommand
type IssuePolicyHandler struct {
	policyWriter
}

// NewIssuePolicyHandler creates a new handler instance
func NewIssuePolicyHandler(repo *PolicyRepository, retryPolicy retry.Policy, logger *zap.Logger) *IssuePolicyHandler {
	return &IssuePolicyHandler{policyWriter{repo: repo, retry: retryPolicy, logger: logger}}
}

// Handle issues the policy
func (h *IssuePolicyHandler) Handle(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.IssuePolicyCommand)
	if !ok {
		return nil, wrongCommand("IssuePolicyCommand", c)
	}
	policyID := orNewID(cmd.PolicyID)
	txID := orNewID(cmd.TransactionID)
	terms := aggregates.IssueTerms{
		TransactionID: txID,
		PolicyNumber:  cmd.PolicyNumber,
		CustomerID:    cmd.CustomerID,
		ProductCode:   cmd.ProductCode,
		TimeZone:      cmd.TimeZone,
		StatusBasis:   ledger.StatusBasis(cmd.StatusBasis),
		Effective:     cmd.Effective,
		Expiry:        cmd.Expiry,
		FormData:      cmd.FormData,
		Calculation:   cmd.Calculation.Result(),
	}

	result, err := retry.Do(ctx, h.retry, func(ctx context.Context) (bus.CommandResult, error) {
		policy, err := h.repo.Create(ctx, uow, valueobjects.TenantID(cmd.TenantID), valueobjects.AggregateID(policyID),
			func(p *aggregates.Policy) error { return p.Issue(terms) })
		if err != nil {
			return bus.CommandResult{}, err
		}
		return bus.CommandResult{AggregateID: policyID, Version: policy.Version(), TransactionID: txID}, nil
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("Policy issued",
		zap.String("tenant_id", cmd.TenantID),
		zap.String("policy_id", policyID),
		zap.String("policy_number", cmd.PolicyNumber))
	return result, nil
}

// RenewPolicyHandler handles RenewPolicyCommand
type RenewPolicyHandler struct {
	policyWriter
}

// NewRenewPolicyHandler creates a new handler instance
func NewRenewPolicyHandler(repo *PolicyRepository, retryPolicy retry.Policy, logger *zap.Logger) *RenewPolicyHandler {
	return &RenewPolicyHandler{policyWriter{repo: repo, retry: retryPolicy, logger: logger}}
}

// Handle renews the policy
func (h *RenewPolicyHandler) Handle(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.RenewPolicyCommand)
	if !ok {
		return nil, wrongCommand("RenewPolicyCommand", c)
	}
	txID := orNewID(cmd.TransactionID)
	terms := aggregates.RenewalTerms{
		TransactionID: txID,
		Effective:     cmd.Effective,
		Expiry:        cmd.Expiry,
		FormData:      cmd.FormData,
		Calculation:   cmd.Calculation.Result(),
	}
	result, err := h.update(ctx, uow, cmd.TenantID, cmd.PolicyID, txID, func(p *aggregates.Policy) error {
		return p.Renew(terms)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdjustPolicyHandler handles AdjustPolicyCommand
type AdjustPolicyHandler struct {
	policyWriter
}

// NewAdjustPolicyHandler creates a new handler instance
func NewAdjustPolicyHandler(repo *PolicyRepository, retryPolicy retry.Policy, logger *zap.Logger) *AdjustPolicyHandler {
	return &AdjustPolicyHandler{policyWriter{repo: repo, retry: retryPolicy, logger: logger}}
}

// Handle adjusts the policy
func (h *AdjustPolicyHandler) Handle(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.AdjustPolicyCommand)
	if !ok {
		return nil, wrongCommand("AdjustPolicyCommand", c)
	}
	txID := orNewID(cmd.TransactionID)
	terms := aggregates.AdjustmentTerms{
		TransactionID: txID,
		Effective:     cmd.Effective,
		FormData:      cmd.FormData,
		Calculation:   cmd.Calculation.Result(),
	}
	result, err := h.update(ctx, uow, cmd.TenantID, cmd.PolicyID, txID, func(p *aggregates.Policy) error {
		return p.Adjust(terms)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelPolicyHandler handles CancelPolicyCommand
type CancelPolicyHandler struct {
	policyWriter
}

// NewCancelPolicyHandler creates a new handler instance
func NewCancelPolicyHandler(repo *PolicyRepository, retryPolicy retry.Policy, logger *zap.Logger) *CancelPolicyHandler {
	return &CancelPolicyHandler{policyWriter{repo: repo, retry: retryPolicy, logger: logger}}
}

// Handle cancels the policy
func (h *CancelPolicyHandler) Handle(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.CancelPolicyCommand)
	if !ok {
		return nil, wrongCommand("CancelPolicyCommand", c)
	}
	txID := orNewID(cmd.TransactionID)
	terms := aggregates.CancellationTerms{
		TransactionID: txID,
		Effective:     cmd.Effective,
		Reason:        cmd.Reason,
		FormData:      cmd.FormData,
		Calculation:   cmd.Calculation.Result(),
	}
	result, err := h.update(ctx, uow, cmd.TenantID, cmd.PolicyID, txID, func(p *aggregates.Policy) error {
		return p.Cancel(terms)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("Policy cancelled",
		zap.String("tenant_id", cmd.TenantID),
		zap.String("policy_id", cmd.PolicyID))
	return result, nil
}

// CorrectPolicyTransactionHandler handles CorrectPolicyTransactionCommand
type CorrectPolicyTransactionHandler struct {
	policyWriter
}

// NewCorrectPolicyTransactionHandler creates a new handler instance
func NewCorrectPolicyTransactionHandler(repo *PolicyRepository, retryPolicy retry.Policy, logger *zap.Logger) *CorrectPolicyTransactionHandler {
	return &CorrectPolicyTransactionHandler{policyWriter{repo: repo, retry: retryPolicy, logger: logger}}
}

// Handle records the correction
func (h *CorrectPolicyTransactionHandler) Handle(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.CorrectPolicyTransactionCommand)
	if !ok {
		return nil, wrongCommand("CorrectPolicyTransactionCommand", c)
	}
	terms := aggregates.CorrectionTerms{
		TransactionID: cmd.TransactionID,
		Reason:        cmd.Reason,
		FormData:      cmd.FormData,
	}
	if cmd.Calculation != nil {
		calc := cmd.Calculation.Result()
		terms.Calculation = &calc
	}
	result, err := h.update(ctx, uow, cmd.TenantID, cmd.PolicyID, cmd.TransactionID, func(p *aggregates.Policy) error {
		return p.CorrectTransaction(terms)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeletePolicyHandler handles DeletePolicyCommand
type DeletePolicyHandler struct {
	policyWriter
}

// NewDeletePolicyHandler creates a new handler instance
func NewDeletePolicyHandler(repo *PolicyRepository, retryPolicy retry.Policy, logger *zap.Logger) *DeletePolicyHandler {
	return &DeletePolicyHandler{policyWriter{repo: repo, retry: retryPolicy, logger: logger}}
}

// Handle marks the policy deleted
func (h *DeletePolicyHandler) Handle(ctx context.Context, uow ports.UnitOfWork, c bus.Command) (interface{}, error) {
	cmd, ok := c.(commands.DeletePolicyCommand)
	if !ok {
		return nil, wrongCommand("DeletePolicyCommand", c)
	}
	result, err := h.update(ctx, uow, cmd.TenantID, cmd.PolicyID, "", func(p *aggregates.Policy) error {
		return p.MarkAsDeleted(cmd.Reason)
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("Policy deleted",
		zap.String("tenant_id", cmd.TenantID),
		zap.String("policy_id", cmd.PolicyID))
	return result, nil
}
