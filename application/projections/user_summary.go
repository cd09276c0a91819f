package projections

import (
	"context"
	"fmt"

	"policyhub-backend/application/ports"
	"policyhub-backend/application/readmodels"
	"policyhub-backend/domain/core/aggregates"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	apperrors "policyhub-backend/pkg/errors"
)

// UserSummaryProjectionName names the user summary projection
const UserSummaryProjectionName = "user_summary"

// UserSummaryProjection keeps one summary row per user
type UserSummaryProjection struct {
	BaseProjection
	store ports.UserSummaryStore
}

// NewUserSummaryProjection creates the projection
func NewUserSummaryProjection(store ports.UserSummaryStore) *UserSummaryProjection {
	return &UserSummaryProjection{
		BaseProjection: NewBaseProjection(UserSummaryProjectionName,
			events.KindUserInitialized,
			events.KindUserActivated,
			events.KindUserBlocked,
			events.KindUserUnblocked,
			events.KindUserMarkedAsDeleted,
		),
		store: store,
	}
}

// Apply folds evt into the summary
func (p *UserSummaryProjection) Apply(ctx context.Context, evt events.Event) error {
	summary, err := p.store.GetUserSummary(ctx, evt.Stream.Tenant, evt.Stream.ID)
	if apperrors.IsNotFound(err) {
		summary, err = readmodels.NewUserSummary(evt.Stream.Tenant, evt.Stream.ID), nil
	}
	if err != nil {
		return err
	}
	if summary.Seen(evt.Sequence) {
		return nil
	}
	if evt.Sequence != summary.LastSequence+1 {
		return outOfOrder(evt, summary.LastSequence)
	}

	switch e := evt.Payload.(type) {
	case events.UserInitialized:
		summary.Email = e.Email
		summary.Name = e.Name
		summary.Status = string(aggregates.UserStatusRegistered)
		summary.RegisteredAt = evt.Timestamp
	case events.UserActivated:
		summary.Status = string(aggregates.UserStatusActive)
	case events.UserBlocked:
		summary.Status = string(aggregates.UserStatusBlocked)
		summary.BlockedReason = e.Reason
	case events.UserUnblocked:
		summary.Status = string(aggregates.UserStatusActive)
		summary.BlockedReason = ""
	case events.UserMarkedAsDeleted:
		summary.Deleted = true
	default:
		return fmt.Errorf("user summary cannot fold %s", evt.Kind)
	}

	summary.LastSequence = evt.Sequence
	summary.LastEventAt = evt.Timestamp
	return settled(p.store.PutUserSummary(ctx, summary))
}

// Reset drops the summary of one user
func (p *UserSummaryProjection) Reset(ctx context.Context, stream valueobjects.StreamID) error {
	err := p.store.DeleteUserSummary(ctx, stream.Tenant, stream.ID)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	return nil
}
