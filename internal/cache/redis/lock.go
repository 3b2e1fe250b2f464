package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tradesense/challenge/internal/domain"
)

// unlockLua deletes the lock key only if it still holds the caller's token, so
// a holder whose TTL expired cannot release a successor's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.Locker with SET NX + TTL and a Lua
// conditional unlock.  Lock retries until the key frees up or ctx ends.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	retry    time.Duration
}

// NewLockManager creates a LockManager.  ttl bounds how long a crashed holder
// can block a challenge; retry is the polling interval while waiting.
func NewLockManager(c *Client, ttl, retry time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &LockManager{
		rdb:      c.rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		retry:    retry,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// TryLock makes a single attempt.  ok is false when someone else holds key.
func (lm *LockManager) TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err = lm.rdb.SetNX(ctx, lk, token, lm.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Background context: the caller's may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}, true, nil
}

// Lock waits for key.  Backend errors and ctx expiry are reported as
// domain.ErrLockUnavailable.
func (lm *LockManager) Lock(ctx context.Context, key string) (func(), error) {
	wait := lm.retry
	for {
		unlock, ok, err := lm.TryLock(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrLockUnavailable, err)
		}
		if ok {
			return unlock, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrLockUnavailable, ctx.Err())
		case <-time.After(wait):
		}
		if wait < 8*lm.retry {
			wait *= 2
		}
	}
}

// Compile-time interface check.
var _ domain.Locker = (*LockManager)(nil)
