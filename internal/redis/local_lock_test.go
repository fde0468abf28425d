package redisclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), BookingLockKey("", "2024-06-01"), func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_ContextCancelledWhileWaiting(t *testing.T) {
	locker := NewLocalLocker()
	key := BookingLockKey("C1", "2024-06-01")

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), key, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, key, func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
}

func TestBookingLockKey(t *testing.T) {
	assert.Equal(t, "lock:booking:2024-06-01", BookingLockKey("", "2024-06-01"))
	assert.Equal(t, "lock:booking:C1:2024-06-01", BookingLockKey("C1", "2024-06-01"))
}
