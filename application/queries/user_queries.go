package queries

import "policyhub-backend/pkg/utils"

// GetUserQuery fetches one user summary
type GetUserQuery struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	UserID   string `json:"user_id" validate:"required,keysafe"`
}

// Validate validates the GetUserQuery
func (q GetUserQuery) Validate() error {
	return utils.ValidateStruct(q)
}

// ListUsersQuery lists a tenant's users
type ListUsersQuery struct {
	TenantID       string `json:"tenant_id" validate:"required,keysafe"`
	IncludeDeleted bool   `json:"include_deleted"`
}

// Validate validates the ListUsersQuery
func (q ListUsersQuery) Validate() error {
	return utils.ValidateStruct(q)
}
