package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"policyhub-backend/domain/core/valueobjects"
)

var (
	// ErrUnknownKind is returned when decoding a kind nobody registered
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrDuplicateKind is returned when a kind is registered twice
	ErrDuplicateKind = errors.New("event kind already registered")
)

type registryEntry struct {
	aggregate valueobjects.AggregateType
	decode    func(data []byte) (Payload, error)
}

// Registry maps event kinds to their payload types
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]registryEntry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Kind]registryEntry)}
}

// Register adds payload type T as belonging to aggregateType
func Register[T Payload](r *Registry, aggregateType valueobjects.AggregateType) error {
	var zero T
	kind := zero.Kind()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.entries[kind] = registryEntry{
		aggregate: aggregateType,
		decode: func(data []byte) (Payload, error) {
			var p T
			if len(data) > 0 {
				if err := json.Unmarshal(data, &p); err != nil {
					return nil, err
				}
			}
			return p, nil
		},
	}
	return nil
}

// Encode serializes a payload
func (r *Registry) Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil payload")
	}
	if !r.Knows(p.Kind()) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, p.Kind())
	}
	return json.Marshal(p)
}

// Decode rebuilds the payload for kind from data
func (r *Registry) Decode(kind Kind, data []byte) (Payload, error) {
	r.mu.RLock()
	entry, ok := r.entries[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	p, err := entry.decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return p, nil
}

// Knows reports whether kind is registered
func (r *Registry) Knows(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind]
	return ok
}

// Kinds lists every registered kind in sorted order
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.entries))
	for k := range r.entries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// KindsFor lists the kinds owned by one aggregate type
func (r *Registry) KindsFor(aggregateType valueobjects.AggregateType) []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var kinds []Kind
	for k, entry := range r.entries {
		if entry.aggregate == aggregateType {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Sample returns the zero payload of kind, handy for exhaustiveness checks
func (r *Registry) Sample(kind Kind) (Payload, error) {
	return r.Decode(kind, nil)
}

// DefaultRegistry registers every payload in this package
func DefaultRegistry() *Registry {
	r := NewRegistry()
	policy := valueobjects.PolicyAggregate
	user := valueobjects.UserAggregate

	mustRegister(Register[PolicyIssued](r, policy))
	mustRegister(Register[PolicyRenewed](r, policy))
	mustRegister(Register[PolicyAdjusted](r, policy))
	mustRegister(Register[PolicyCancelled](r, policy))
	mustRegister(Register[PolicyTransactionCorrected](r, policy))
	mustRegister(Register[PolicyMarkedAsDeleted](r, policy))

	mustRegister(Register[UserInitialized](r, user))
	mustRegister(Register[UserActivated](r, user))
	mustRegister(Register[UserBlocked](r, user))
	mustRegister(Register[UserUnblocked](r, user))
	mustRegister(Register[UserMarkedAsDeleted](r, user))
	return r
}

func mustRegister(err error) {
	if err != nil {
		panic(err)
	}
}
