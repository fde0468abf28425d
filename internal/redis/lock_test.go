package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisDayLocker_ContendedCallersWaitTheirTurn(t *testing.T) {
	_, client := newMiniredisClient(t)
	locker := NewRedisDayLocker(client, 5*time.Second)
	key := BookingLockKey("", "2024-06-01")

	const n = 8
	var inside, maxInside, done int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
				cur := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if cur <= m || atomic.CompareAndSwapInt32(&maxInside, m, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&done, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), done)
	assert.Equal(t, int32(1), maxInside)
}

func TestRedisDayLocker_GivesUpAfterWait(t *testing.T) {
	mr, client := newMiniredisClient(t)
	locker := NewRedisDayLocker(client, 50*time.Millisecond)
	key := BookingLockKey("C1", "2024-06-01")
	require.NoError(t, mr.Set(key, "held-by-another-instance"))

	called := false
	start := time.Now()
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		called = true
		return nil
	})

	require.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRedisDayLocker_ReleasesOnlyItsOwnToken(t *testing.T) {
	mr, client := newMiniredisClient(t)
	locker := NewRedisDayLocker(client, time.Second)
	key := BookingLockKey("", "2024-06-02")

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(key))

	err = locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		// the lock expired and another instance took it over
		return mr.Set(key, "other-token")
	})
	require.NoError(t, err)
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "other-token", got)
}
