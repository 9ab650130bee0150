package repository

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"salonbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLocker uses the primary (Redis) locker and switches to the fallback
// when the primary errors. Lock contention is not treated as an outage.
type FailoverLocker struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverLocker(primary, fallback domain.Locker, logger *zerolog.Logger) *FailoverLocker {
	return &FailoverLocker{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (l *FailoverLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if l.isDown.Load() && time.Since(time.Unix(0, l.lastCheck.Load())) > recoveryInterval {
		l.isDown.Store(false)
		l.logger.Info().Msg("Retrying primary locker")
	}

	if !l.isDown.Load() {
		release, err := l.primary.Acquire(ctx, key, ttl)
		if err == nil || errors.Is(err, domain.ErrLockNotAcquired) {
			return release, err
		}
		l.logger.Error().Err(err).Msg("Primary locker failed, falling back to memory")
		l.markDown()
	}

	return l.fallback.Acquire(ctx, key, ttl)
}

func (l *FailoverLocker) markDown() {
	l.isDown.Store(true)
	l.lastCheck.Store(time.Now().UnixNano())
}

var _ domain.Locker = (*FailoverLocker)(nil)
