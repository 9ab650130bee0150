package repository

import (
	"context"
	"testing"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisLocker(t *testing.T) {
	s, client := newTestRedis(t)
	locker := NewRedisLocker(client, 0)
	ctx := context.Background()

	t.Run("AcquireAndRelease", func(t *testing.T) {
		release, err := locker.Acquire(ctx, "professional:1", time.Minute)
		require.NoError(t, err)
		assert.True(t, s.Exists("lock:professional:1"))

		_, err = locker.Acquire(ctx, "professional:1", time.Minute)
		assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

		release()
		assert.False(t, s.Exists("lock:professional:1"))

		release2, err := locker.Acquire(ctx, "professional:1", time.Minute)
		require.NoError(t, err)
		release2()
	})

	t.Run("ExpiredLockIsNotReleasedByOldHolder", func(t *testing.T) {
		release, err := locker.Acquire(ctx, "professional:2", time.Second)
		require.NoError(t, err)

		s.FastForward(2 * time.Second)

		release2, err := locker.Acquire(ctx, "professional:2", time.Minute)
		require.NoError(t, err)

		release()
		assert.True(t, s.Exists("lock:professional:2"), "stale release must not drop the new holder's lock")
		release2()
		assert.False(t, s.Exists("lock:professional:2"))
	})

	t.Run("WaitsForRelease", func(t *testing.T) {
		waiting := NewRedisLocker(client, 2*time.Second)
		release, err := waiting.Acquire(ctx, "professional:3", time.Minute)
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			release()
		}()

		release2, err := waiting.Acquire(ctx, "professional:3", time.Minute)
		require.NoError(t, err)
		release2()
	})

	t.Run("NilClient", func(t *testing.T) {
		_, err := NewRedisLocker(nil, 0).Acquire(ctx, "x", time.Second)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer down.Close()
		_, err := NewRedisLocker(down, 0).Acquire(ctx, "x", time.Second)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrLockNotAcquired)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}

func TestRedisDeadLetterQueue(t *testing.T) {
	_, client := newTestRedis(t)
	q := NewRedisDeadLetterQueue(client, "notifications:deadletter")
	ctx := context.Background()

	empty, err := q.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i := int64(1); i <= 2; i++ {
		require.NoError(t, q.PushDeadLetter(ctx, &models.ScheduledNotification{
			ID:           i,
			Type:         models.NotificationReminder,
			Status:       models.NotificationFailed,
			RetryCount:   3,
			ErrorMessage: "unreachable",
		}))
	}

	list, err := q.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].ID, "newest first")
	assert.Equal(t, "unreachable", list[1].ErrorMessage)
}

func TestClose(t *testing.T) {
	assert.NoError(t, Close(nil))
}
