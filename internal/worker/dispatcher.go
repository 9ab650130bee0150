package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"salonbook/internal/channels"
	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/notification"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	OutcomeSent    = "sent"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Stats summarizes one ProcessDue run.
type Stats struct {
	Selected int `json:"selected"`
	Sent     int `json:"sent"`
	Retried  int `json:"retried"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

func (s *Stats) add(outcome string) {
	switch outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomeRetry:
		s.Retried++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

type DispatcherConfig struct {
	Interval   time.Duration
	BatchSize  int
	Retry      RetryPolicy
	RateLimits map[string]config.ChannelRateConfig
}

// Dispatcher delivers due notifications and applies the retry policy.
type Dispatcher struct {
	store       domain.NotificationStore
	clients     domain.ClientLookup
	templates   *notification.Registry
	sender      domain.ChannelSender
	deadLetters domain.DeadLetterSink
	limiters    map[string]*rate.Limiter
	batchSize   int
	retry       RetryPolicy
	logger      *zerolog.Logger
	now         func() time.Time

	// processMu keeps the ticker and manual triggers from running batches concurrently.
	processMu sync.Mutex
	loop      periodic
}

func NewDispatcher(
	store domain.NotificationStore,
	clients domain.ClientLookup,
	templates *notification.Registry,
	sender domain.ChannelSender,
	cfg DispatcherConfig,
	logger *zerolog.Logger,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = models.DispatchIntervalSeconds * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = models.DispatchBatchSize
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = models.MaxNotificationRetries
	}

	limiters := make(map[string]*rate.Limiter, len(cfg.RateLimits))
	for channel, rl := range cfg.RateLimits {
		if rl.RPS <= 0 {
			continue
		}
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		limiters[channel] = rate.NewLimiter(rate.Limit(rl.RPS), burst)
	}

	d := &Dispatcher{
		store:     store,
		clients:   clients,
		templates: templates,
		sender:    sender,
		limiters:  limiters,
		batchSize: cfg.BatchSize,
		retry:     cfg.Retry,
		logger:    logger,
		now:       time.Now,
	}
	d.loop = periodic{
		name:     "notification dispatcher",
		interval: cfg.Interval,
		logger:   logger,
		fn:       d.tick,
	}
	return d
}

// SetDeadLetterSink enables pushing permanently failed notifications.
func (d *Dispatcher) SetDeadLetterSink(sink domain.DeadLetterSink) {
	d.deadLetters = sink
}

// Start launches the dispatch loop; it stops when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.loop.start(ctx)
}

// Stop waits for the in-flight batch to finish.
func (d *Dispatcher) Stop() {
	d.loop.stop()
}

func (d *Dispatcher) tick(ctx context.Context) {
	stats, err := d.ProcessDue(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("Notification dispatch failed")
		return
	}
	if stats.Selected > 0 {
		d.logger.Info().
			Int("selected", stats.Selected).
			Int("sent", stats.Sent).
			Int("retried", stats.Retried).
			Int("failed", stats.Failed).
			Int("skipped", stats.Skipped).
			Msg("Notification batch processed")
	}
}

// ProcessDue runs one batch: pending rows due by now with retries left,
// oldest first. Delivery errors never escape; only the selection can fail.
func (d *Dispatcher) ProcessDue(ctx context.Context) (Stats, error) {
	d.processMu.Lock()
	defer d.processMu.Unlock()

	started := time.Now()
	defer func() { metrics.ObserveDispatch(time.Since(started)) }()

	var stats Stats
	now := d.now()
	due, err := d.store.FindDueNotifications(ctx, now, d.retry.MaxRetries, d.batchSize)
	if err != nil {
		return stats, fmt.Errorf("find due notifications: %w", err)
	}
	stats.Selected = len(due)

	for _, n := range due {
		outcome := d.process(ctx, n, now)
		stats.add(outcome)
		metrics.IncNotification(n.Channel, outcome)
	}
	return stats, nil
}

func (d *Dispatcher) process(ctx context.Context, n *models.ScheduledNotification, now time.Time) string {
	if limiter, ok := d.limiters[n.Channel]; ok && !limiter.Allow() {
		return OutcomeSkipped
	}

	tmpl, ok := d.templates.Get(n.TemplateName)
	if !ok {
		return d.fail(ctx, n, n.RetryCount, fmt.Errorf("%w: template %q not found", domain.ErrInvalidTemplate, n.TemplateName))
	}

	client, err := d.clients.GetClient(ctx, n.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return d.fail(ctx, n, n.RetryCount, err)
		}
		return d.retryOrFail(ctx, n, now, err)
	}

	recipient, err := channels.Recipient(client, n.Channel)
	if err != nil {
		return d.fail(ctx, n, n.RetryCount, err)
	}

	msg := domain.Message{
		NotificationID: n.ID,
		Channel:        n.Channel,
		Recipient:      recipient,
		Subject:        notification.Render(tmpl.Subject, n.Variables),
		Body:           notification.Render(tmpl.Body, n.Variables),
	}

	externalID, err := d.sender.Send(ctx, msg)
	if err != nil {
		if channels.IsPermanent(err) {
			return d.fail(ctx, n, n.RetryCount+1, err)
		}
		return d.retryOrFail(ctx, n, now, err)
	}

	if err := d.store.MarkNotificationSent(ctx, n.ID, d.now(), externalID); err != nil {
		d.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to mark notification sent")
		return OutcomeSkipped
	}
	return OutcomeSent
}

func (d *Dispatcher) retryOrFail(ctx context.Context, n *models.ScheduledNotification, now time.Time, cause error) string {
	attempt := n.RetryCount + 1
	if d.retry.Exhausted(attempt) {
		return d.fail(ctx, n, attempt, cause)
	}

	next := d.retry.NextAttemptAt(now, attempt)
	if err := d.store.MarkNotificationRetry(ctx, n.ID, attempt, cause.Error(), next); err != nil {
		d.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to record notification retry")
		return OutcomeSkipped
	}
	d.logger.Warn().
		Err(cause).
		Int64("notification_id", n.ID).
		Int("attempt", attempt).
		Msg("Notification delivery failed, will retry")
	return OutcomeRetry
}

func (d *Dispatcher) fail(ctx context.Context, n *models.ScheduledNotification, retryCount int, cause error) string {
	if err := d.store.MarkNotificationFailed(ctx, n.ID, retryCount, cause.Error()); err != nil {
		d.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to mark notification failed")
		return OutcomeSkipped
	}
	d.logger.Error().
		Err(cause).
		Int64("notification_id", n.ID).
		Int64("booking_id", n.BookingID).
		Int("retry_count", retryCount).
		Msg("Notification failed permanently")

	n.Status = models.NotificationFailed
	n.RetryCount = retryCount
	n.ErrorMessage = cause.Error()
	if d.deadLetters != nil {
		if err := d.deadLetters.PushDeadLetter(ctx, n); err != nil {
			d.logger.Warn().Err(err).Int64("notification_id", n.ID).Msg("Dead-letter push failed")
		}
	}
	return OutcomeFailed
}
