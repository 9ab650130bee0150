package worker

import (
	"math"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/models"
)

// RetryPolicy defines how failed deliveries are retried. A zero InitialDelay
// retries on the next dispatcher tick.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RetryPolicyFromConfig builds the policy from the notifications section.
func RetryPolicyFromConfig(cfg config.NotificationsConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.Backoff.InitialDelay,
		MaxDelay:      cfg.Backoff.MaxDelay,
		BackoffFactor: cfg.Backoff.Factor,
	}
}

// Exhausted reports whether attempt (1-based) was the last one allowed.
func (r RetryPolicy) Exhausted(attempt int) bool {
	limit := r.MaxRetries
	if limit <= 0 {
		limit = models.MaxNotificationRetries
	}
	return attempt >= limit
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
// Zero means no explicit delay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if r.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && (d > r.MaxDelay || d <= 0) {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = r.InitialDelay
	}
	return d
}

// NextAttemptAt returns when attempt+1 may run, or nil for the next tick.
func (r RetryPolicy) NextAttemptAt(now time.Time, attempt int) *time.Time {
	d := r.NextDelay(attempt)
	if d == 0 {
		return nil
	}
	at := now.Add(d)
	return &at
}
