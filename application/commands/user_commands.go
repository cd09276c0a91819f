package commands

// RegisterUserCommand creates a user. UserID is generated when empty.
type RegisterUserCommand struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	UserID   string `json:"user_id" validate:"omitempty,keysafe,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=200"`
}

// Validate checks the command
func (c RegisterUserCommand) Validate() error { return validate(c, nil) }

// ActivateUserCommand activates a registered user
type ActivateUserCommand struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	UserID   string `json:"user_id" validate:"required,keysafe"`
}

// Validate checks the command
func (c ActivateUserCommand) Validate() error { return validate(c, nil) }

// BlockUserCommand blocks a user
type BlockUserCommand struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	UserID   string `json:"user_id" validate:"required,keysafe"`
	Reason   string `json:"reason" validate:"required,max=500"`
}

// Validate checks the command
func (c BlockUserCommand) Validate() error { return validate(c, nil) }

// UnblockUserCommand lifts a block
type UnblockUserCommand struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	UserID   string `json:"user_id" validate:"required,keysafe"`
}

// Validate checks the command
func (c UnblockUserCommand) Validate() error { return validate(c, nil) }

// DeleteUserCommand marks a user as deleted
type DeleteUserCommand struct {
	TenantID string `json:"tenant_id" validate:"required,keysafe"`
	UserID   string `json:"user_id" validate:"required,keysafe"`
	Reason   string `json:"reason" validate:"max=500"`
}

// Validate checks the command
func (c DeleteUserCommand) Validate() error { return validate(c, nil) }
