package worker

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

// ReminderScheduler creates a booking's reminder unless one is already pending.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, bookingID int64) (*models.ScheduledNotification, error)
}

type ReminderScannerConfig struct {
	Interval   time.Duration
	Lead       time.Duration
	Lookahead  time.Duration
	FireWindow time.Duration
}

// ReminderScanner catches confirmed bookings whose reminder is about to be due
// but was never queued, e.g. bookings confirmed after payment.
type ReminderScanner struct {
	bookings  domain.BookingStore
	reminders ReminderScheduler
	cfg       ReminderScannerConfig
	logger    *zerolog.Logger
	now       func() time.Time
	loop      periodic
}

func NewReminderScanner(bookings domain.BookingStore, reminders ReminderScheduler, cfg ReminderScannerConfig, logger *zerolog.Logger) *ReminderScanner {
	if cfg.Interval <= 0 {
		cfg.Interval = models.ReminderScanIntervalSeconds * time.Second
	}
	if cfg.Lead <= 0 {
		cfg.Lead = models.ReminderLeadHours * time.Hour
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = models.ReminderLookaheadDays * 24 * time.Hour
	}
	if cfg.FireWindow <= 0 {
		cfg.FireWindow = models.ReminderFireWindowHours * time.Hour
	}

	s := &ReminderScanner{
		bookings:  bookings,
		reminders: reminders,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	s.loop = periodic{
		name:     "reminder scanner",
		interval: cfg.Interval,
		logger:   logger,
		fn: func(ctx context.Context) {
			if _, err := s.Scan(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Reminder scan failed")
			}
		},
	}
	return s
}

func (s *ReminderScanner) Start(ctx context.Context) {
	s.loop.start(ctx)
}

func (s *ReminderScanner) Stop() {
	s.loop.stop()
}

// Scan schedules reminders whose fire time falls in [now, now+FireWindow]
// and returns how many were created.
func (s *ReminderScanner) Scan(ctx context.Context) (int, error) {
	now := s.now()
	upcoming, err := s.bookings.ListBookings(ctx, models.BookingFilter{
		Statuses: []string{models.StatusConfirmed},
		From:     now,
		To:       now.Add(s.cfg.Lookahead),
	})
	if err != nil {
		return 0, fmt.Errorf("list upcoming bookings: %w", err)
	}

	windowEnd := now.Add(s.cfg.FireWindow)
	scheduled := 0
	for _, b := range upcoming {
		fireAt := b.StartsAt.Add(-s.cfg.Lead)
		if fireAt.Before(now) || fireAt.After(windowEnd) {
			continue
		}
		n, err := s.reminders.ScheduleReminder(ctx, b.ID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("Failed to schedule reminder")
			continue
		}
		if n != nil {
			scheduled++
		}
	}

	if scheduled > 0 {
		s.logger.Info().Int("scheduled", scheduled).Msg("Reminders scheduled by scan")
	}
	return scheduled, nil
}
