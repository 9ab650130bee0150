package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"salonbook/internal/domain"
)

const defaultRetryInterval = 25 * time.Millisecond

type lockEntry struct {
	token     uint64
	expiresAt time.Time
}

// MemoryLocker is an in-process lock with TTL, used when Redis is not configured.
type MemoryLocker struct {
	mu       sync.Mutex
	locks    map[string]lockEntry
	seq      uint64
	maxWait  time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewMemoryLocker(maxWait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		locks:    make(map[string]lockEntry),
		maxWait:  maxWait,
		interval: defaultRetryInterval,
		now:      time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	var token uint64
	err := retryUntil(ctx, l.maxWait, l.interval, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.now()
		if entry, ok := l.locks[key]; ok && now.Before(entry.expiresAt) {
			return false, nil
		}
		l.seq++
		token = l.seq
		l.locks[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if entry, ok := l.locks[key]; ok && entry.token == token {
			delete(l.locks, key)
		}
	}, nil
}

// retryUntil polls try until it succeeds, fails, maxWait elapses or ctx ends.
func retryUntil(ctx context.Context, maxWait, interval time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(maxWait)
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return domain.ErrLockNotAcquired
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", domain.ErrLockNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.Locker = (*MemoryLocker)(nil)
