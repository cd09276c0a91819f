package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"policyhub-backend/application/ports"
	"policyhub-backend/pkg/clock"
)

// Only the holder of the token may delete or extend a lease
var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// NewClient creates a Redis client and performs a health check
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// LockProvider implements leased locks with SET NX PX. Redis expires
// abandoned leases itself.
type LockProvider struct {
	client goredis.Cmdable
	prefix string
	clock  clock.Clock
	logger *zap.Logger
}

var _ ports.LockProvider = (*LockProvider)(nil)

// NewLockProvider creates a Redis lock provider
func NewLockProvider(client goredis.Cmdable, prefix string, clk clock.Clock, logger *zap.Logger) *LockProvider {
	if prefix == "" {
		prefix = "lock:"
	}
	if clk == nil {
		clk = clock.System()
	}
	return &LockProvider{client: client, prefix: prefix, clock: clk, logger: logger}
}

func (p *LockProvider) key(k string) string {
	return p.prefix + k
}

// TryAcquire sets the key only if it does not exist
func (p *LockProvider) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (ports.Lease, error) {
	now := p.clock.Now()
	lease := ports.Lease{
		Key:        key,
		Owner:      owner,
		Token:      uuid.New().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	err := p.client.SetArgs(ctx, p.key(key), lease.Token, goredis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return ports.Lease{}, ports.ErrLockHeld
		}
		return ports.Lease{}, fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.logger.Debug("Lock acquired",
		zap.String("key", key),
		zap.String("owner", owner),
		zap.Duration("ttl", ttl))
	return lease, nil
}

// Release deletes the key if it still carries our token
func (p *LockProvider) Release(ctx context.Context, lease ports.Lease) error {
	n, err := releaseScript.Run(ctx, p.client, []string{p.key(lease.Key)}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n == 0 {
		return ports.ErrLockNotHeld
	}
	return nil
}

// Renew extends the key if it still carries our token
func (p *LockProvider) Renew(ctx context.Context, lease ports.Lease, ttl time.Duration) (ports.Lease, error) {
	n, err := renewScript.Run(ctx, p.client, []string{p.key(lease.Key)}, lease.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return ports.Lease{}, fmt.Errorf("failed to renew lock: %w", err)
	}
	if n == 0 {
		return ports.Lease{}, ports.ErrLockNotHeld
	}
	lease.ExpiresAt = p.clock.Now().Add(ttl)
	return lease, nil
}
