package aggregates

import (
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/domain/events"
	"policyhub-backend/pkg/clock"
	apperrors "policyhub-backend/pkg/errors"
)

// UserType is the aggregate type of users
const UserType = valueobjects.UserAggregate

// User invariant codes
const (
	CodeUserAlreadyInitialized = "USER_ALREADY_INITIALIZED"
	CodeUserAlreadyActive      = "USER_ALREADY_ACTIVE"
	CodeUserAlreadyBlocked     = "USER_ALREADY_BLOCKED"
	CodeUserNotBlocked         = "USER_NOT_BLOCKED"
	CodeUserBlocked            = "USER_BLOCKED"
	CodeUserDeleted            = "USER_DELETED"
	CodeUserAlreadyDeleted     = "USER_ALREADY_DELETED"
)

// UserStatus is the lifecycle stage of a user
type UserStatus string

const (
	UserStatusRegistered UserStatus = "registered"
	UserStatusActive     UserStatus = "active"
	UserStatusBlocked    UserStatus = "blocked"
)

// UserState is the folded state of a user
type UserState struct {
	Email         string
	Name          string
	Status        UserStatus
	BlockedReason string
	Deleted       bool
}

// User is the aggregate root of a platform user
type User struct {
	Root
	state UserState
}

// NewUser creates an empty user
func NewUser(stream valueobjects.StreamID, clk clock.Clock) *User {
	u := &User{}
	u.Root = newRoot(stream, clk, u.apply)
	return u
}

// UserFactory binds a clock for repositories
func UserFactory(clk clock.Clock) func(valueobjects.StreamID) *User {
	return func(stream valueobjects.StreamID) *User {
		return NewUser(stream, clk)
	}
}

// State returns a copy of the folded state
func (u *User) State() UserState { return u.state }

// Initialize registers the user
func (u *User) Initialize(email, name string) error {
	if u.Exists() {
		return violation(CodeUserAlreadyInitialized, "user %s already exists", u.ID())
	}
	if email == "" {
		return apperrors.NewValidationError("email is required")
	}
	return u.raise(events.UserInitialized{Email: email, Name: name})
}

// Activate makes a registered user active
func (u *User) Activate() error {
	if err := u.checkLive(); err != nil {
		return err
	}
	switch u.state.Status {
	case UserStatusActive:
		return violation(CodeUserAlreadyActive, "user %s is already active", u.ID())
	case UserStatusBlocked:
		return violation(CodeUserBlocked, "user %s is blocked", u.ID())
	}
	return u.raise(events.UserActivated{})
}

// Block prevents the user from acting
func (u *User) Block(reason string) error {
	if err := u.checkLive(); err != nil {
		return err
	}
	if u.state.Status == UserStatusBlocked {
		return violation(CodeUserAlreadyBlocked, "user %s is already blocked", u.ID())
	}
	return u.raise(events.UserBlocked{Reason: reason})
}

// Unblock lifts a block; the user returns to active
func (u *User) Unblock() error {
	if err := u.checkLive(); err != nil {
		return err
	}
	if u.state.Status != UserStatusBlocked {
		return violation(CodeUserNotBlocked, "user %s is not blocked", u.ID())
	}
	return u.raise(events.UserUnblocked{})
}

// MarkAsDeleted removes the user from active views
func (u *User) MarkAsDeleted(reason string) error {
	if !u.Exists() {
		return violation(CodeNotInitialized, "user %s does not exist", u.ID())
	}
	if u.state.Deleted {
		return violation(CodeUserAlreadyDeleted, "user %s is already deleted", u.ID())
	}
	return u.raise(events.UserMarkedAsDeleted{Reason: reason})
}

func (u *User) checkLive() error {
	if !u.Exists() {
		return violation(CodeNotInitialized, "user %s does not exist", u.ID())
	}
	if u.state.Deleted {
		return violation(CodeUserDeleted, "user %s has been deleted", u.ID())
	}
	return nil
}

func (u *User) apply(payload events.Payload) error {
	switch e := payload.(type) {
	case events.UserInitialized:
		u.state.Email = e.Email
		u.state.Name = e.Name
		u.state.Status = UserStatusRegistered
	case events.UserActivated:
		u.state.Status = UserStatusActive
	case events.UserBlocked:
		u.state.Status = UserStatusBlocked
		u.state.BlockedReason = e.Reason
	case events.UserUnblocked:
		u.state.Status = UserStatusActive
		u.state.BlockedReason = ""
	case events.UserMarkedAsDeleted:
		u.state.Deleted = true
	default:
		return unhandled(payload)
	}
	return nil
}
