package valueobjects

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TenantID identifies the tenant that owns an aggregate
type TenantID string

// String returns the string representation
func (t TenantID) String() string { return string(t) }

// Validate checks the tenant id is usable as a key component
func (t TenantID) Validate() error {
	if t == "" {
		return errors.New("tenant ID cannot be empty")
	}
	if strings.ContainsAny(string(t), "#/:") {
		return errors.New("tenant ID contains reserved characters")
	}
	return nil
}

// AggregateID is the identifier of a single aggregate within a tenant
type AggregateID string

// NewAggregateID creates a new random AggregateID
func NewAggregateID() AggregateID {
	return AggregateID(uuid.New().String())
}

// String returns the string representation
func (id AggregateID) String() string { return string(id) }

// IsZero checks if the AggregateID is the zero value
func (id AggregateID) IsZero() bool { return id == "" }

// Validate checks the aggregate id is usable as a key component
func (id AggregateID) Validate() error {
	if id == "" {
		return errors.New("aggregate ID cannot be empty")
	}
	if strings.ContainsAny(string(id), "#/:") {
		return errors.New("aggregate ID contains reserved characters")
	}
	return nil
}

// AggregateType names a kind of aggregate (policy, user, ...)
type AggregateType string

// String returns the string representation
func (t AggregateType) String() string { return string(t) }

// Validate checks the aggregate type is set
func (t AggregateType) Validate() error {
	if t == "" {
		return errors.New("aggregate type cannot be empty")
	}
	return nil
}

// StreamID is the identity triple of an aggregate and its event history
type StreamID struct {
	Tenant TenantID      `json:"tenant_id"`
	Type   AggregateType `json:"aggregate_type"`
	ID     AggregateID   `json:"aggregate_id"`
}

// NewStreamID builds a StreamID
func NewStreamID(tenant TenantID, aggregateType AggregateType, id AggregateID) StreamID {
	return StreamID{Tenant: tenant, Type: aggregateType, ID: id}
}

// ParseStreamID parses the tenant/type/id form produced by String
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return StreamID{}, fmt.Errorf("invalid stream id %q", s)
	}
	id := NewStreamID(TenantID(parts[0]), AggregateType(parts[1]), AggregateID(parts[2]))
	if err := id.Validate(); err != nil {
		return StreamID{}, err
	}
	return id, nil
}

// String returns tenant/type/id
func (s StreamID) String() string {
	return string(s.Tenant) + "/" + string(s.Type) + "/" + string(s.ID)
}

// Validate checks every component of the identity
func (s StreamID) Validate() error {
	if err := s.Tenant.Validate(); err != nil {
		return err
	}
	if err := s.Type.Validate(); err != nil {
		return err
	}
	return s.ID.Validate()
}

// IsZero checks if the StreamID is the zero value
func (s StreamID) IsZero() bool {
	return s.Tenant == "" && s.Type == "" && s.ID == ""
}

// Aggregate types hosted by this service
const (
	PolicyAggregate AggregateType = "policy"
	UserAggregate   AggregateType = "user"
)
