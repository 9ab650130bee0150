package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"salonbook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	args := m.Called(ctx, key, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func TestFailoverLocker(t *testing.T) {
	primary := new(mockLocker)
	fallback := new(mockLocker)
	logger := zerolog.New(io.Discard)
	locker := NewFailoverLocker(primary, fallback, &logger)
	ctx := context.Background()
	noop := func() {}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Acquire", ctx, "a", time.Second).Return(noop, nil).Once()

		release, err := locker.Acquire(ctx, "a", time.Second)
		require.NoError(t, err)
		assert.NotNil(t, release)
		primary.AssertExpectations(t)
	})

	t.Run("ContentionIsNotFailover", func(t *testing.T) {
		primary.On("Acquire", ctx, "b", time.Second).Return(nil, domain.ErrLockNotAcquired).Once()

		_, err := locker.Acquire(ctx, "b", time.Second)
		assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertNotCalled(t, "Acquire", ctx, "b", time.Second)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Acquire", ctx, "c", time.Second).Return(nil, errors.New("connection refused")).Once()
		fallback.On("Acquire", ctx, "c", time.Second).Return(noop, nil).Once()

		_, err := locker.Acquire(ctx, "c", time.Second)
		require.NoError(t, err)
		assert.True(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDown", func(t *testing.T) {
		fallback.On("Acquire", ctx, "d", time.Second).Return(noop, nil).Once()

		_, err := locker.Acquire(ctx, "d", time.Second)
		require.NoError(t, err)
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "Acquire", ctx, "d", time.Second)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		locker.isDown.Store(true)
		locker.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Acquire", ctx, "e", time.Second).Return(noop, nil).Once()

		_, err := locker.Acquire(ctx, "e", time.Second)
		require.NoError(t, err)
		assert.False(t, locker.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		locker.isDown.Store(true)
		locker.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())
		primary.On("Acquire", ctx, "f", time.Second).Return(nil, errors.New("still down")).Once()
		fallback.On("Acquire", ctx, "f", time.Second).Return(noop, nil).Once()

		_, err := locker.Acquire(ctx, "f", time.Second)
		require.NoError(t, err)
		assert.True(t, locker.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
