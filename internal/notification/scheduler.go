package notification

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"

	"github.com/rs/zerolog"
)

// Request describes one notification to queue. A zero ScheduledFor means now.
type Request struct {
	ClientID     int64
	BookingID    int64
	Type         models.NotificationType
	Channel      string
	ScheduledFor time.Time
	TemplateName string
	Variables    map[string]string
}

// Scheduler persists pending notifications. The store allows one pending
// notification per booking and type and reports a second one as
// domain.ErrAlreadyPending.
type Scheduler struct {
	store     domain.NotificationStore
	templates *Registry
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewScheduler(store domain.NotificationStore, templates *Registry, logger *zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		templates: templates,
		logger:    logger,
		now:       time.Now,
	}
}

// Schedule validates the template and stores the notification as pending.
// A fire time that has already passed is skipped and returns nil, nil.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (*models.ScheduledNotification, error) {
	tmpl, ok := s.templates.Get(req.TemplateName)
	if !ok {
		return nil, fmt.Errorf("%w: template %q not found", domain.ErrInvalidTemplate, req.TemplateName)
	}
	if tmpl.Channel != req.Channel {
		return nil, fmt.Errorf("%w: template %q is for channel %s, not %s",
			domain.ErrInvalidTemplate, req.TemplateName, tmpl.Channel, req.Channel)
	}

	now := s.now()
	fireAt := req.ScheduledFor
	if fireAt.IsZero() {
		fireAt = now
	}
	if fireAt.Before(now) {
		s.logger.Debug().
			Int64("booking_id", req.BookingID).
			Str("type", string(req.Type)).
			Time("scheduled_for", fireAt).
			Msg("Notification fire time already passed, skipping")
		return nil, nil
	}

	if missing := MissingVariables(tmpl, req.Variables); len(missing) > 0 {
		s.logger.Warn().
			Str("template", tmpl.Name).
			Strs("missing", missing).
			Msg("Template variables missing, they will render empty")
	}

	notificationType := req.Type
	if notificationType == "" {
		notificationType = tmpl.Type
	}

	n := &models.ScheduledNotification{
		ClientID:     req.ClientID,
		BookingID:    req.BookingID,
		Type:         notificationType,
		Channel:      req.Channel,
		ScheduledFor: fireAt,
		Status:       models.NotificationPending,
		TemplateName: tmpl.Name,
		Variables:    req.Variables,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("schedule %s notification: %w", notificationType, err)
	}

	s.logger.Info().
		Int64("notification_id", n.ID).
		Int64("booking_id", n.BookingID).
		Str("type", string(n.Type)).
		Str("channel", n.Channel).
		Time("scheduled_for", n.ScheduledFor).
		Msg("Notification scheduled")
	return n, nil
}

// Templates exposes the registry the scheduler validates against.
func (s *Scheduler) Templates() *Registry {
	return s.templates
}
