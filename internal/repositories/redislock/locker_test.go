package redislock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) *Locker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is not set")
	}
	client := NewClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })

	l := NewLocker(client, "test:"+uuid.NewString()+":", ttl, 5*time.Millisecond, lib.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Ping(ctx); err != nil {
		t.Skipf("redis is not reachable: %s", err)
	}
	return l
}

func TestLockerExcludes(t *testing.T) {
	l := newTestLocker(t, 5*time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.LockCtx(context.Background(), "c1")
			if err != nil {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

func TestLockerContextCancel(t *testing.T) {
	l := newTestLocker(t, 5*time.Second)

	unlock, err := l.LockCtx(context.Background(), "c1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.LockCtx(ctx, "c1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.LockCtx(context.Background(), "c2")
	require.NoError(t, err)
	other()
}

func TestLockerExtendsLeaseWhileHeld(t *testing.T) {
	l := newTestLocker(t, 100*time.Millisecond)

	unlock, err := l.LockCtx(context.Background(), "c1")
	require.NoError(t, err)

	// several ttls pass while the holder is still working
	time.Sleep(350 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.LockCtx(ctx, "c1")
	require.ErrorIs(t, err, context.DeadlineExceeded, "holder still owns the lock after its ttl")

	unlock()
	again, err := l.LockCtx(context.Background(), "c1")
	require.NoError(t, err)
	again()
}

func TestLockerLostLockIsNotReleasedByFormerHolder(t *testing.T) {
	l := newTestLocker(t, 100*time.Millisecond)

	stale, err := l.LockCtx(context.Background(), "c1")
	require.NoError(t, err)

	// the lease expired and another instance took the key
	ctx := context.Background()
	require.NoError(t, l.client.Set(ctx, l.prefix+"c1", "other-instance", time.Second).Err())
	time.Sleep(50 * time.Millisecond)
	stale()

	owner, err := l.client.Get(ctx, l.prefix+"c1").Result()
	require.NoError(t, err)
	require.Equal(t, "other-instance", owner)
}
