package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

// Locker is used by the scheduling engine to serialize check-and-insert for
// one booking day.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

const (
	acquireBackoffMin = 5 * time.Millisecond
	acquireBackoffMax = 100 * time.Millisecond
)

type redisDayLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisDayLocker creates a locker that holds a Redis key per booking day.
// Callers queue for the key for up to one ttl before ErrLockNotAcquired.
func NewRedisDayLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisDayLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
	}
}

// BookingLockKey names the lock guarding a date, optionally narrowed to one clinic.
func BookingLockKey(clinic, date string) string {
	if clinic == "" {
		return fmt.Sprintf("lock:booking:%s", date)
	}
	return fmt.Sprintf("lock:booking:%s:%s", clinic, date)
}

func (l *redisDayLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		return err
	}

	defer func() {
		// release must run even if the caller's context is already done
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

// acquire polls SetNX with capped exponential backoff until the key is taken,
// the wait runs out or ctx is done.
func (l *redisDayLocker) acquire(ctx context.Context, key, token string) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	backoff := acquireBackoffMin
	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		switch {
		case ok:
			return nil
		case err != nil && waitCtx.Err() == nil:
			return fmt.Errorf("acquire booking lock: %w", err)
		case err != nil:
			return ErrLockNotAcquired
		}

		select {
		case <-time.After(backoff):
		case <-waitCtx.Done():
			return ErrLockNotAcquired
		}
		backoff = min(backoff*2, acquireBackoffMax)
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
