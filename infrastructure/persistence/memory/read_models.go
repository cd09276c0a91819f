package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/ledger"
	apperrors "policyhub-backend/pkg/errors"
)

type rowKey struct {
	tenant valueobjects.TenantID
	id     valueobjects.AggregateID
}

// ReadModelStore holds every read model in memory. Rows are stored as
// deep copies so callers can never mutate projected state in place.
type ReadModelStore struct {
	mu       sync.RWMutex
	policies map[rowKey]readmodels.PolicySummary
	users    map[rowKey]readmodels.UserSummary
	ledgers  map[rowKey]map[int]ledger.PolicyTransaction
}

// NewReadModelStore creates an empty store
func NewReadModelStore() *ReadModelStore {
	return &ReadModelStore{
		policies: make(map[rowKey]readmodels.PolicySummary),
		users:    make(map[rowKey]readmodels.UserSummary),
		ledgers:  make(map[rowKey]map[int]ledger.PolicyTransaction),
	}
}

// GetPolicySummary returns NOT_FOUND when the policy was never projected
func (s *ReadModelStore) GetPolicySummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (*readmodels.PolicySummary, error) {
	s.mu.RLock()
	row, ok := s.policies[rowKey{tenant, id}]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("policy summary")
	}
	return clone(&row)
}

// PutPolicySummary upserts a summary unless the stored row is as new
func (s *ReadModelStore) PutPolicySummary(ctx context.Context, summary *readmodels.PolicySummary) error {
	row, err := clone(summary)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rowKey{summary.TenantID, summary.PolicyID}
	if existing, ok := s.policies[k]; ok && existing.LastSequence >= summary.LastSequence {
		return ports.ErrStaleWrite
	}
	s.policies[k] = *row
	return nil
}

// ListPolicySummaries lists a tenant's policies by policy number
func (s *ReadModelStore) ListPolicySummaries(ctx context.Context, tenant valueobjects.TenantID) ([]*readmodels.PolicySummary, error) {
	s.mu.RLock()
	var out []*readmodels.PolicySummary
	for k, row := range s.policies {
		if k.tenant != tenant {
			continue
		}
		row := row
		c, err := clone(&row)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PolicyNumber < out[j].PolicyNumber })
	return out, nil
}

// DeletePolicySummary removes a summary before a rebuild
func (s *ReadModelStore) DeletePolicySummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) error {
	s.mu.Lock()
	delete(s.policies, rowKey{tenant, id})
	s.mu.Unlock()
	return nil
}

// UpsertTransaction writes a ledger entry keyed by (policy, sequence) unless
// the stored entry has folded as many events
func (s *ReadModelStore) UpsertTransaction(ctx context.Context, tx *ledger.PolicyTransaction) error {
	row, err := clone(tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rowKey{tx.TenantID, tx.PolicyID}
	if s.ledgers[k] == nil {
		s.ledgers[k] = make(map[int]ledger.PolicyTransaction)
	}
	if existing, ok := s.ledgers[k][tx.EventSequence]; ok && existing.Applied() >= tx.Applied() {
		return ports.ErrStaleWrite
	}
	s.ledgers[k][tx.EventSequence] = *row
	return nil
}

// FindTransaction looks an entry up by transaction id
func (s *ReadModelStore) FindTransaction(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID, transactionID string) (*ledger.PolicyTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.ledgers[rowKey{tenant, policyID}] {
		if tx.TransactionID == transactionID {
			return clone(&tx)
		}
	}
	return nil, apperrors.NewNotFoundError("policy transaction")
}

// ListTransactions returns a policy's ledger in sequence order
func (s *ReadModelStore) ListTransactions(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID) ([]*ledger.PolicyTransaction, error) {
	s.mu.RLock()
	rows := s.ledgers[rowKey{tenant, policyID}]
	out := make([]*ledger.PolicyTransaction, 0, len(rows))
	for _, tx := range rows {
		tx := tx
		c, err := clone(&tx)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EventSequence < out[j].EventSequence })
	return out, nil
}

// DeleteTransactions clears a policy's ledger before a rebuild
func (s *ReadModelStore) DeleteTransactions(ctx context.Context, tenant valueobjects.TenantID, policyID valueobjects.AggregateID) error {
	s.mu.Lock()
	delete(s.ledgers, rowKey{tenant, policyID})
	s.mu.Unlock()
	return nil
}

// GetUserSummary returns NOT_FOUND when the user was never projected
func (s *ReadModelStore) GetUserSummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) (*readmodels.UserSummary, error) {
	s.mu.RLock()
	row, ok := s.users[rowKey{tenant, id}]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFoundError("user summary")
	}
	c := row
	return &c, nil
}

// PutUserSummary upserts a summary unless the stored row is as new
func (s *ReadModelStore) PutUserSummary(ctx context.Context, summary *readmodels.UserSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rowKey{summary.TenantID, summary.UserID}
	if existing, ok := s.users[k]; ok && existing.LastSequence >= summary.LastSequence {
		return ports.ErrStaleWrite
	}
	s.users[k] = *summary
	return nil
}

// ListUserSummaries lists a tenant's users by email
func (s *ReadModelStore) ListUserSummaries(ctx context.Context, tenant valueobjects.TenantID) ([]*readmodels.UserSummary, error) {
	s.mu.RLock()
	var out []*readmodels.UserSummary
	for k, row := range s.users {
		if k.tenant == tenant {
			c := row
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// DeleteUserSummary removes a summary before a rebuild
func (s *ReadModelStore) DeleteUserSummary(ctx context.Context, tenant valueobjects.TenantID, id valueobjects.AggregateID) error {
	s.mu.Lock()
	delete(s.users, rowKey{tenant, id})
	s.mu.Unlock()
	return nil
}

// clone deep-copies through JSON, the same encoding the durable stores use
func clone[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, "copy read model")
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(err, "copy read model")
	}
	return &out, nil
}
