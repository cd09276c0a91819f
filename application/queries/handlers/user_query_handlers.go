package handlers

import (
	"context"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/queries"
	"policyhub-backend/application/queries/bus"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/valueobjects"
	apperrors "policyhub-backend/pkg/errors"
)

// UserQueryHandlers answers user queries from the user summaries
type UserQueryHandlers struct {
	users ports.UserSummaryStore
}

// NewUserQueryHandlers creates the user query handlers
func NewUserQueryHandlers(users ports.UserSummaryStore) *UserQueryHandlers {
	return &UserQueryHandlers{users: users}
}

// Register registers each user query on the bus
func (h *UserQueryHandlers) Register(b *bus.QueryBus) error {
	if err := b.Register(queries.GetUserQuery{}, bus.QueryHandlerFunc(h.getUser)); err != nil {
		return err
	}
	return b.Register(queries.ListUsersQuery{}, bus.QueryHandlerFunc(h.listUsers))
}

func (h *UserQueryHandlers) getUser(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.GetUserQuery)
	if !ok {
		return nil, wrongQuery("GetUserQuery", q)
	}
	summary, err := h.users.GetUserSummary(ctx, valueobjects.TenantID(query.TenantID), valueobjects.AggregateID(query.UserID))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFoundError("user").WithDetail("user_id", query.UserID)
		}
		return nil, err
	}
	return summary, nil
}

func (h *UserQueryHandlers) listUsers(ctx context.Context, q bus.Query) (interface{}, error) {
	query, ok := q.(queries.ListUsersQuery)
	if !ok {
		return nil, wrongQuery("ListUsersQuery", q)
	}
	all, err := h.users.ListUserSummaries(ctx, valueobjects.TenantID(query.TenantID))
	if err != nil {
		return nil, err
	}
	out := make([]*readmodels.UserSummary, 0, len(all))
	for _, u := range all {
		if u.Deleted && !query.IncludeDeleted {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
