package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tap-lms/journey-hub/internal/domain/journey"
	"github.com/tap-lms/journey-hub/internal/domain/shared"
	"github.com/tap-lms/journey-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the key only while it still holds our token, so an
// expired holder cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockClient is the subset of redis.Cmdable the lock needs.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	redis.Scripter
}

// errLockBusy marks a contended attempt worth retrying.
var errLockBusy = errors.New("lock is held")

// Locker implements journey.Locker with SET NX PX and a compare-and-delete release.
type Locker struct {
	client  LockClient
	ttl     time.Duration
	maxWait time.Duration
	logger  *slog.Logger
}

// NewLocker creates a Locker. ttl bounds how long a crashed holder blocks a
// student; maxWait bounds how long Lock polls a contended key.
func NewLocker(client LockClient, ttl, maxWait time.Duration, logger *slog.Logger) *Locker {
	if ttl <= 0 {
		ttl = TTLDistributedLock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		client:  client,
		ttl:     ttl,
		maxWait: maxWait,
		logger:  logger.With("component", "redis_lock"),
	}
}

// Lock implements journey.Locker.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := LockKey(key)
	token := uuid.NewString()

	err := retry.LockRetrier(l.maxWait).Do(ctx, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return retry.Permanent(err)
		}
		if !ok {
			return retry.Retryable(errLockBusy)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockBusy) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s", shared.ErrLockNotAcquired, key)
		}
		return nil, shared.WrapError("journey", "Lock", shared.ErrStorage, "redis lock failed", err)
	}

	unlock := func() {
		// The caller's context may already be cancelled; release independently.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("lock release failed", "key", redisKey, "error", err)
		}
	}
	return unlock, nil
}

var _ journey.Locker = (*Locker)(nil)
