package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	lock := NewRedisLock(client, time.Minute)
	lock.poll = 5 * time.Millisecond
	return lock, mr
}

func TestRedisLockAcquireRelease(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "repo")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisLockPrefix+"repo"))
	assert.Greater(t, mr.TTL(redisLockPrefix+"repo"), time.Duration(0))

	release()
	assert.False(t, mr.Exists(redisLockPrefix+"repo"))

	release2, err := lock.Acquire(ctx, "repo")
	require.NoError(t, err)
	release2()
}

func TestRedisLockContention(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "repo")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(short, "repo")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		r, err := lock.Acquire(ctx, "repo")
		if assert.NoError(t, err) {
			r()
		}
		close(acquired)
	}()

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the released lock")
	}
}

func TestRedisLockRenewedWhileHeld(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	lock.renew = 5 * time.Millisecond
	ctx := context.Background()
	key := redisLockPrefix + "repo"

	release, err := lock.Acquire(ctx, "repo")
	require.NoError(t, err)

	// Twice the TTL passes in steps, each followed by a renewal
	for i := 0; i < 6; i++ {
		mr.FastForward(20 * time.Second)
		require.Eventually(t, func() bool {
			return mr.TTL(key) > 50*time.Second
		}, time.Second, time.Millisecond, "lock was not renewed")
	}
	assert.True(t, mr.Exists(key))

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = lock.Acquire(short, "repo")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a second holder must wait for the first")

	release()
	assert.False(t, mr.Exists(key))

	// Renewal stops with the release
	mr.Set(key, "someone else")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, time.Duration(0), mr.TTL(key))
}

func TestRedisLockDoesNotReleaseForeignHolder(t *testing.T) {
	lock, mr := newTestRedisLock(t)
	ctx := context.Background()

	stale, err := lock.Acquire(ctx, "repo")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(redisLockPrefix+"repo"))

	current, err := lock.Acquire(ctx, "repo")
	require.NoError(t, err)
	defer current()

	stale()
	assert.True(t, mr.Exists(redisLockPrefix+"repo"), "expired holder must not delete the new lock")
}

func TestStoreWithRedisLock(t *testing.T) {
	lock, _ := newTestRedisLock(t)
	s := New(NewMemoryBackend(), lock, Options{LockTimeout: time.Second})
	ctx := context.Background()

	err := s.WithExclusiveAccess(ctx, "repo", func(ctx context.Context, st Storage) error {
		return st.Write(ctx, "repo/index", []byte("x"))
	})
	require.NoError(t, err)
	ok, err := s.Exists(ctx, "repo/index")
	require.NoError(t, err)
	assert.True(t, ok)
}
