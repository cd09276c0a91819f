package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/queries"
	"policyhub-backend/application/queries/bus"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/domain/ledger"
	"policyhub-backend/pkg/clock"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
)

// PolicyQueryHandlers answers policy queries from the read models and, for
// history, from the event store
type PolicyQueryHandlers struct {
	summaries ports.PolicySummaryStore
	ledger    ports.TransactionLedgerStore
	store     ports.EventStore
	registry  *events.Registry
	clock     clock.Clock
	logger    *zap.Logger
}

// NewPolicyQueryHandlers creates the policy query handlers
func NewPolicyQueryHandlers(
	summaries ports.PolicySummaryStore,
	ledgerStore ports.TransactionLedgerStore,
	store ports.EventStore,
	registry *events.Registry,
	clk clock.Clock,
	logger *zap.Logger,
) *PolicyQueryHandlers {
	return &PolicyQueryHandlers{
		summaries: summaries,
		ledger:    ledgerStore,
		store:     store,
		registry:  registry,
		clock:     clk,
		logger:    logger,
	}
}

// Register registers each policy query on the bus
func (h *PolicyQueryHandlers) Register(b *bus.QueryBus) error {
	registrations := []struct {
		query   bus.Query
		handler bus.QueryHandlerFunc
	}{
		{queries.GetPolicyQuery{}, h.getPolicy},
		{queries.ListPoliciesQuery{}, h.listPolicies},
		{queries.ListPolicyTransactionsQuery{}, h.listTransactions},
		{queries.GetPolicyHistoryQuery{}, h.getHistory},
	}
	for _, r := range registrations {
		if err := b.Register(r.query, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func wrongQuery(want string, got bus.Query) error {
	return fmt.Errorf("handler for %s received %s", want, bus.Name(got))
}

func (h *PolicyQueryHandlers) getPolicy(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetPolicyQuery)
	if !ok {
		return nil, wrongQuery("GetPolicyQuery", q)
	}
	return h.summary(ctx, query.TenantID, query.PolicyID)
}

func (h *PolicyQueryHandlers) summary(ctx context.Context, tenant, policyID string) (*readmodels.PolicySummary, error) {
	summary, err := h.summaries.GetPolicySummary(ctx, valueobjects.TenantID(tenant), valueobjects.AggregateID(policyID))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFoundError("policy").WithDetail("policy_id", policyID)
		}
		return nil, err
	}
	return summary, nil
}

func (h *PolicyQueryHandlers) listPolicies(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListPoliciesQuery)
	if !ok {
		return nil, wrongQuery("ListPoliciesQuery", q)
	}
	all, err := h.summaries.ListPolicySummaries(ctx, valueobjects.TenantID(query.TenantID))
	if err != nil {
		return nil, err
	}

	visible := make([]*readmodels.PolicySummary, 0, len(all))
	for _, s := range all {
		if s.Deleted && !query.IncludeDeleted {
			continue
		}
		visible = append(visible, s)
	}

	page := common.DefaultPaginationParams()
	if query.Page > 0 {
		page.Page = query.Page
	}
	if query.PageSize > 0 {
		page.PageSize = query.PageSize
	}
	start := page.CalculateOffset()
	if start > len(visible) {
		start = len(visible)
	}
	end := start + page.PageSize
	if end > len(visible) {
		end = len(visible)
	}
	return common.NewPaginatedResult(visible[start:end], page.Page, page.PageSize, len(visible)), nil
}

func (h *PolicyQueryHandlers) listTransactions(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListPolicyTransactionsQuery)
	if !ok {
		return nil, wrongQuery("ListPolicyTransactionsQuery", q)
	}
	summary, err := h.summary(ctx, query.TenantID, query.PolicyID)
	if err != nil {
		return nil, err
	}

	basis := ledger.StatusBasis(query.Basis)
	if basis == "" {
		basis = summary.StatusBasis
	}
	zone := query.TimeZone
	if zone == "" {
		zone = summary.TimeZone
	}
	loc, err := valueobjects.LoadLocation(zone)
	if err != nil {
		return nil, apperrors.NewValidationError("unknown time zone " + zone)
	}
	at := query.At
	if at.IsZero() {
		at = h.clock.Now()
	}

	txs, err := h.ledger.ListTransactions(ctx, summary.TenantID, summary.PolicyID)
	if err != nil {
		return nil, err
	}
	views := make([]queries.TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, queries.TransactionView{
			PolicyTransaction: *tx,
			Status:            tx.StatusAt(at, basis, loc),
		})
	}

	return &queries.ListPolicyTransactionsResult{
		PolicyID:     query.PolicyID,
		At:           at,
		Basis:        basis,
		TimeZone:     loc.String(),
		Transactions: views,
	}, nil
}

func (h *PolicyQueryHandlers) getHistory(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetPolicyHistoryQuery)
	if !ok {
		return nil, wrongQuery("GetPolicyHistoryQuery", q)
	}
	stream := valueobjects.NewStreamID(valueobjects.TenantID(query.TenantID), aggregates.PolicyType, valueobjects.AggregateID(query.PolicyID))
	history, err := h.store.Load(ctx, stream)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, apperrors.NewNotFoundError("policy").WithDetail("policy_id", query.PolicyID)
	}

	records, err := events.ToRecords(h.registry, history)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode policy history").WithCause(err)
	}
	result := &queries.GetPolicyHistoryResult{
		PolicyID: query.PolicyID,
		Version:  history[len(history)-1].Version(),
		Events:   make([]queries.HistoryEntry, 0, len(records)),
	}
	for _, rec := range records {
		result.Events = append(result.Events, queries.HistoryEntry{
			EventID:       rec.EventID,
			Sequence:      rec.Sequence,
			Kind:          rec.Kind,
			Data:          rec.Data,
			Timestamp:     rec.Timestamp,
			CorrelationID: rec.CorrelationID,
			CausationID:   rec.CausationID,
			Actor:         rec.Actor,
		})
	}
	return result, nil
}
