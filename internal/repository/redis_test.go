package repository

import (
	"context"
	"testing"
	"time"

	"shareit/internal/config"
	"shareit/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	t.Cleanup(func() { _ = Close(client) })
	return s, client
}

func TestRedisLocker(t *testing.T) {
	s, client := newMiniredis(t)
	locker := NewRedisLocker(client, 50*time.Millisecond)
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		token, err := locker.Acquire(ctx, 1, time.Second)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		got, err := s.Get(lockKey(1))
		require.NoError(t, err)
		assert.Equal(t, token, got)

		require.NoError(t, locker.Release(ctx, 1, token))
		assert.False(t, s.Exists(lockKey(1)))
	})

	t.Run("BusyLock", func(t *testing.T) {
		token, err := locker.Acquire(ctx, 2, time.Second)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, 2, time.Second)
		assert.ErrorIs(t, err, domain.ErrLockBusy)
		assert.ErrorIs(t, err, domain.ErrConflict)

		require.NoError(t, locker.Release(ctx, 2, token))
		token, err = locker.Acquire(ctx, 2, time.Second)
		require.NoError(t, err)
		require.NoError(t, locker.Release(ctx, 2, token))
	})

	t.Run("ForeignTokenDoesNotRelease", func(t *testing.T) {
		token, err := locker.Acquire(ctx, 3, time.Second)
		require.NoError(t, err)

		require.NoError(t, locker.Release(ctx, 3, "someone-else"))
		assert.True(t, s.Exists(lockKey(3)))

		require.NoError(t, locker.Release(ctx, 3, token))
	})

	t.Run("Expiry", func(t *testing.T) {
		_, err := locker.Acquire(ctx, 4, time.Second)
		require.NoError(t, err)

		s.FastForward(2 * time.Second)

		token, err := locker.Acquire(ctx, 4, time.Second)
		require.NoError(t, err)
		require.NoError(t, locker.Release(ctx, 4, token))
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := NewRedisLocker(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), 10*time.Millisecond)
		_, err := down.Acquire(ctx, 5, time.Second)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrLockBusy)
	})
}

func TestRedisRateLimiter(t *testing.T) {
	s, client := newMiniredis(t)
	limiter := NewRedisRateLimiter(client)
	ctx := context.Background()

	allowed, err := limiter.CheckRateLimit(ctx, "key-a", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.CheckRateLimit(ctx, "key-a", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.CheckRateLimit(ctx, "key-a", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.CheckRateLimit(ctx, "key-b", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)

	s.FastForward(2 * time.Second)

	allowed, err = limiter.CheckRateLimit(ctx, "key-a", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPingAndClose(t *testing.T) {
	_, client := newMiniredis(t)
	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(nil))
}
