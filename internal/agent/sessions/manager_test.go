package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLock_SerialisesSameSession(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock(ctx, "s-1", func(context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestWithLock_DifferentSessionsRunConcurrently(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	firstInside := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.WithLock(ctx, "s-1", func(context.Context) error {
			close(firstInside)
			<-releaseFirst
			return nil
		})
	}()

	<-firstInside
	done := make(chan struct{})
	go func() {
		_ = m.WithLock(ctx, "s-2", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on s-2 blocked by s-1")
	}
	close(releaseFirst)
	wg.Wait()
}

func TestWithLock_EntriesGarbageCollected(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.WithLock(context.Background(), "s-1", func(context.Context) error { return nil }))

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}

func TestRedisLocker_MutualExclusionAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, "botgraph:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "s-1", time.Minute)
	require.NoError(t, err)

	// second holder cannot acquire while the lease is held
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(shortCtx, "s-1", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock(ctx))

	unlock2, err := locker.Lock(ctx, "s-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_UnlockIgnoresStolenLease(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, "botgraph:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "s-1", 50*time.Millisecond)
	require.NoError(t, err)

	// lease expires and another process takes the lock
	mr.FastForward(time.Second)
	unlock2, err := locker.Lock(ctx, "s-1", time.Minute)
	require.NoError(t, err)

	// the stale holder's unlock must not delete the new lease
	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("botgraph:lock:s-1"))
	require.NoError(t, unlock2(ctx))
}
