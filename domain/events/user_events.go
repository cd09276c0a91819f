package events

// User event kinds
const (
	KindUserInitialized     Kind = "UserInitialized"
	KindUserActivated       Kind = "UserActivated"
	KindUserBlocked         Kind = "UserBlocked"
	KindUserUnblocked       Kind = "UserUnblocked"
	KindUserMarkedAsDeleted Kind = "UserMarkedAsDeleted"
)

// UserInitialized is raised when a user is registered
type UserInitialized struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserActivated is raised when a registered user is activated
type UserActivated struct{}

// UserBlocked is raised when a user is blocked
type UserBlocked struct {
	Reason string `json:"reason"`
}

// UserUnblocked is raised when a block is lifted
type UserUnblocked struct{}

// UserMarkedAsDeleted is raised when a user is deleted
type UserMarkedAsDeleted struct {
	Reason string `json:"reason,omitempty"`
}

func (UserInitialized) Kind() Kind     { return KindUserInitialized }
func (UserActivated) Kind() Kind       { return KindUserActivated }
func (UserBlocked) Kind() Kind         { return KindUserBlocked }
func (UserUnblocked) Kind() Kind       { return KindUserUnblocked }
func (UserMarkedAsDeleted) Kind() Kind { return KindUserMarkedAsDeleted }

func (UserInitialized) isPayload()     {}
func (UserActivated) isPayload()       {}
func (UserBlocked) isPayload()         {}
func (UserUnblocked) isPayload()       {}
func (UserMarkedAsDeleted) isPayload() {}
