package locking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/domain/core/valueobjects"
	apperrors "policyhub-backend/pkg/errors"
)

// Key identifies the aggregate a lock serializes
type Key struct {
	Tenant valueobjects.TenantID
	Type   valueobjects.AggregateType
	ID     valueobjects.AggregateID
}

// KeyFor builds the lock key of a stream
func KeyFor(stream valueobjects.StreamID) Key {
	return Key{Tenant: stream.Tenant, Type: stream.Type, ID: stream.ID}
}

// String returns the canonical resource name lock:tenant:type:id
func (k Key) String() string {
	return fmt.Sprintf("lock:%s:%s:%s", k.Tenant, k.Type, k.ID)
}

// Config tunes lease length and the polling backoff
type Config struct {
	LeaseTTL       time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns a 30s lease polled from 100ms, x1.5, capped at 1s
func DefaultConfig() Config {
	return Config{
		LeaseTTL:       30 * time.Second,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  1.5,
	}
}

// Service hands out leased locks on aggregates
type Service struct {
	provider ports.LockProvider
	instance string
	config   Config
	metrics  ports.Metrics
	logger   *zap.Logger
}

// NewService creates a lock service over provider
func NewService(provider ports.LockProvider, config Config, metrics ports.Metrics, logger *zap.Logger) *Service {
	defaults := DefaultConfig()
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = defaults.LeaseTTL
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host, _ := os.Hostname()
	return &Service{
		provider: provider,
		instance: fmt.Sprintf("%s-%d", host, os.Getpid()),
		config:   config,
		metrics:  metrics,
		logger:   logger,
	}
}

// AcquireOrThrow polls for the lock until it is granted, timeout elapses
// (LOCK_TIMEOUT) or ctx is cancelled. The caller must Release the handle.
func (s *Service) AcquireOrThrow(ctx context.Context, key Key, timeout time.Duration) (*Handle, error) {
	resource := key.String()
	owner := s.instance + "/" + uuid.New().String()
	started := time.Now()
	deadline := started.Add(timeout)
	retryInterval := s.config.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lease, err := s.provider.TryAcquire(ctx, resource, owner, s.config.LeaseTTL)
		if err == nil {
			s.metrics.LockWait(key.Type.String(), time.Since(started), true)
			s.logger.Debug("Lock acquired",
				zap.String("resource", resource),
				zap.String("owner", owner),
				zap.Duration("waited", time.Since(started)),
			)
			return &Handle{service: s, key: key, lease: lease}, nil
		}
		if !errors.Is(err, ports.ErrLockHeld) {
			return nil, fmt.Errorf("acquire lock %s: %w", resource, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.metrics.LockWait(key.Type.String(), time.Since(started), false)
			s.logger.Warn("Lock wait timed out",
				zap.String("resource", resource),
				zap.Duration("timeout", timeout),
			)
			return nil, apperrors.NewLockTimeout(resource, timeout)
		}

		wait := retryInterval
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		retryInterval = time.Duration(float64(retryInterval) * s.config.BackoffFactor)
		if retryInterval > s.config.MaxBackoff {
			retryInterval = s.config.MaxBackoff
		}
	}
}

// WithLock runs fn while holding the lock and releases it on every exit path,
// including panics.
func (s *Service) WithLock(ctx context.Context, key Key, timeout time.Duration, fn func(ctx context.Context) error) error {
	handle, err := s.AcquireOrThrow(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer handle.releaseDetached(ctx)

	return fn(ctx)
}

// LeaseTTL returns the lease length granted to each acquisition
func (s *Service) LeaseTTL() time.Duration {
	return s.config.LeaseTTL
}

// Handle is a held lock
type Handle struct {
	service  *Service
	key      Key
	mu       sync.Mutex
	lease    ports.Lease
	released bool
}

// Key returns the locked key
func (h *Handle) Key() Key { return h.key }

// Lease returns the current lease
func (h *Handle) Lease() ports.Lease {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lease
}

// Release gives the lock back. Calling it more than once is harmless.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true

	if err := h.service.provider.Release(ctx, h.lease); err != nil {
		if errors.Is(err, ports.ErrLockNotHeld) {
			h.service.logger.Warn("Lock already expired or taken over at release",
				zap.String("resource", h.lease.Key),
				zap.String("owner", h.lease.Owner),
			)
			return nil
		}
		return fmt.Errorf("release lock %s: %w", h.lease.Key, err)
	}
	return nil
}

// Renew extends the lease for operations that outlive the default TTL
func (h *Handle) Renew(ctx context.Context, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return ports.ErrLockNotHeld
	}
	lease, err := h.service.provider.Renew(ctx, h.lease, ttl)
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", h.lease.Key, err)
	}
	h.lease = lease
	return nil
}

// releaseDetached releases even when ctx is already cancelled
func (h *Handle) releaseDetached(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := h.Release(releaseCtx); err != nil {
		h.service.logger.Error("Failed to release lock",
			zap.String("resource", h.key.String()),
			zap.Error(err),
		)
	}
}

// ReleaseOnExit releases the handle from a defer, logging instead of returning errors
func (h *Handle) ReleaseOnExit(ctx context.Context) {
	h.releaseDetached(ctx)
}
