package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"policyhub-backend/application/ports"
	"policyhub-backend/pkg/clock"
)

// LockProvider keeps leases in process memory. Useful for single-instance
// deployments and tests; it offers no cross-process exclusion.
type LockProvider struct {
	mu     sync.Mutex
	clock  clock.Clock
	leases map[string]ports.Lease
}

// NewLockProvider creates an empty lock table
func NewLockProvider(clk clock.Clock) *LockProvider {
	if clk == nil {
		clk = clock.System()
	}
	return &LockProvider{clock: clk, leases: make(map[string]ports.Lease)}
}

// TryAcquire grants the lease if the key is free or its lease has expired
func (p *LockProvider) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (ports.Lease, error) {
	if err := ctx.Err(); err != nil {
		return ports.Lease{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if current, held := p.leases[key]; held && now.Before(current.ExpiresAt) {
		return ports.Lease{}, ports.ErrLockHeld
	}

	lease := ports.Lease{
		Key:        key,
		Owner:      owner,
		Token:      uuid.New().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	p.leases[key] = lease
	return lease, nil
}

// Release drops the lease if it is still ours
func (p *LockProvider) Release(ctx context.Context, lease ports.Lease) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, held := p.leases[lease.Key]
	if !held || current.Token != lease.Token {
		return ports.ErrLockNotHeld
	}
	delete(p.leases, lease.Key)
	return nil
}

// Renew pushes the expiry of a lease we still hold
func (p *LockProvider) Renew(ctx context.Context, lease ports.Lease, ttl time.Duration) (ports.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	current, held := p.leases[lease.Key]
	if !held || current.Token != lease.Token || !now.Before(current.ExpiresAt) {
		return ports.Lease{}, ports.ErrLockNotHeld
	}
	current.ExpiresAt = now.Add(ttl)
	p.leases[lease.Key] = current
	return current, nil
}
