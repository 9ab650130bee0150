package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/channels"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/models"
	"salonbook/internal/notification"
	"salonbook/internal/worker"

	"github.com/rs/zerolog"
)

// DueProcessor runs one dispatch batch on demand.
type DueProcessor interface {
	ProcessDue(ctx context.Context) (worker.Stats, error)
}

type NotificationSettings struct {
	ReminderLead  time.Duration
	FollowUpAfter time.Duration
	BusinessName  string
	Location      *time.Location
	// Channels in order of preference; the first one the client has an
	// address for is used.
	Channels []string
}

// NotificationService turns booking events into scheduled notifications.
type NotificationService struct {
	scheduler *notification.Scheduler
	store     domain.NotificationStore
	bookings  domain.BookingStore
	clients   domain.ClientLookup
	services  domain.ServiceLookup
	processor DueProcessor
	settings  NotificationSettings
	logger    *zerolog.Logger
}

func NewNotificationService(
	scheduler *notification.Scheduler,
	store domain.NotificationStore,
	bookings domain.BookingStore,
	clients domain.ClientLookup,
	services domain.ServiceLookup,
	settings NotificationSettings,
	logger *zerolog.Logger,
) *NotificationService {
	if settings.ReminderLead <= 0 {
		settings.ReminderLead = models.ReminderLeadHours * time.Hour
	}
	if settings.FollowUpAfter <= 0 {
		settings.FollowUpAfter = models.FollowUpDelayHours * time.Hour
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if len(settings.Channels) == 0 {
		settings.Channels = []string{models.ChannelTelegram, models.ChannelEmail, models.ChannelLog}
	}
	return &NotificationService{
		scheduler: scheduler,
		store:     store,
		bookings:  bookings,
		clients:   clients,
		services:  services,
		settings:  settings,
		logger:    logger,
	}
}

// SetProcessor wires the dispatcher used by ProcessDueNotifications.
func (s *NotificationService) SetProcessor(p DueProcessor) {
	s.processor = p
}

// ScheduleConfirmation queues an immediate confirmation unless one is pending.
func (s *NotificationService) ScheduleConfirmation(ctx context.Context, bookingID int64) (*models.ScheduledNotification, error) {
	return s.scheduleForBooking(ctx, bookingID, models.NotificationConfirmation, notification.TemplateBookingConfirmation, true, nil,
		func(*models.Booking) time.Time { return time.Time{} })
}

// ScheduleReminder queues the reminder at start minus the lead time. Bookings
// that are not confirmed, already have a pending reminder, or start too soon
// for the reminder yield nil, nil.
func (s *NotificationService) ScheduleReminder(ctx context.Context, bookingID int64) (*models.ScheduledNotification, error) {
	return s.scheduleForBooking(ctx, bookingID, models.NotificationReminder, notification.TemplateBookingReminder, true, nil,
		func(b *models.Booking) time.Time { return b.StartsAt.Add(-s.settings.ReminderLead) })
}

// ScheduleFollowUp queues the follow-up after the visit ends.
func (s *NotificationService) ScheduleFollowUp(ctx context.Context, bookingID int64) (*models.ScheduledNotification, error) {
	return s.scheduleForBooking(ctx, bookingID, models.NotificationFollowUp, notification.TemplateFollowUp, true, nil,
		func(b *models.Booking) time.Time { return b.EndsAt().Add(s.settings.FollowUpAfter) })
}

// ScheduleCancellation tells the client right away that the booking is off.
func (s *NotificationService) ScheduleCancellation(ctx context.Context, bookingID int64, reason string) (*models.ScheduledNotification, error) {
	return s.scheduleForBooking(ctx, bookingID, models.NotificationCancellation, notification.TemplateBookingCancelled, false,
		map[string]string{"reason": reason},
		func(*models.Booking) time.Time { return time.Time{} })
}

// CancelNotificationsForBooking cancels every pending notification of the
// booking. Sent and failed rows are left as they are.
func (s *NotificationService) CancelNotificationsForBooking(ctx context.Context, bookingID int64) (int64, error) {
	n, err := s.store.CancelPendingNotifications(ctx, bookingID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int64("booking_id", bookingID).Int64("cancelled", n).Msg("Pending notifications cancelled")
	}
	return n, nil
}

// ProcessDueNotifications runs one dispatch batch immediately.
func (s *NotificationService) ProcessDueNotifications(ctx context.Context) (worker.Stats, error) {
	if s.processor == nil {
		return worker.Stats{}, errors.New("notification dispatcher is not configured")
	}
	return s.processor.ProcessDue(ctx)
}

// Subscribe registers the booking event handlers on the bus. A booking
// created as pending_payment gets neither a confirmation nor a reminder until
// ConfirmBooking publishes booking_confirmed for it.
func (s *NotificationService) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, s.handle(func(ctx context.Context, p events.BookingEventPayload) error {
		if p.Status != models.StatusConfirmed {
			return nil
		}
		return s.scheduleConfirmed(ctx, p.BookingID)
	}))
	bus.Subscribe(events.EventBookingConfirmed, s.handle(func(ctx context.Context, p events.BookingEventPayload) error {
		return s.scheduleConfirmed(ctx, p.BookingID)
	}))
	bus.Subscribe(events.EventBookingRescheduled, s.handle(func(ctx context.Context, p events.BookingEventPayload) error {
		if _, err := s.store.CancelPendingNotifications(ctx, p.BookingID, models.NotificationReminder); err != nil {
			return err
		}
		_, err := s.ScheduleReminder(ctx, p.BookingID)
		return err
	}))
	bus.Subscribe(events.EventBookingCancelled, s.handle(func(ctx context.Context, p events.BookingEventPayload) error {
		if _, err := s.CancelNotificationsForBooking(ctx, p.BookingID); err != nil {
			return err
		}
		_, err := s.ScheduleCancellation(ctx, p.BookingID, p.CancelReason)
		return err
	}))
	bus.Subscribe(events.EventBookingCompleted, s.handle(func(ctx context.Context, p events.BookingEventPayload) error {
		_, err := s.ScheduleFollowUp(ctx, p.BookingID)
		return err
	}))
	bus.Subscribe(events.EventBookingNoShow, s.handle(func(ctx context.Context, p events.BookingEventPayload) error {
		_, err := s.store.CancelPendingNotifications(ctx, p.BookingID, models.NotificationReminder, models.NotificationFollowUp)
		return err
	}))
}

func (s *NotificationService) handle(fn func(ctx context.Context, p events.BookingEventPayload) error) events.EventHandler {
	return func(event *events.Event) error {
		var payload events.BookingEventPayload
		if err := event.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Type, err)
		}
		return fn(context.Background(), payload)
	}
}

func (s *NotificationService) scheduleConfirmed(ctx context.Context, bookingID int64) error {
	_, confirmErr := s.ScheduleConfirmation(ctx, bookingID)
	_, reminderErr := s.ScheduleReminder(ctx, bookingID)
	return errors.Join(confirmErr, reminderErr)
}

func (s *NotificationService) scheduleForBooking(
	ctx context.Context,
	bookingID int64,
	notificationType models.NotificationType,
	templateBase string,
	guard bool,
	extra map[string]string,
	fireAt func(*models.Booking) time.Time,
) (*models.ScheduledNotification, error) {
	if guard {
		pending, err := s.store.HasPendingNotification(ctx, bookingID, notificationType)
		if err != nil {
			return nil, err
		}
		if pending {
			return nil, nil
		}
	}

	booking, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if notificationType == models.NotificationReminder && booking.Status != models.StatusConfirmed {
		return nil, nil
	}

	client, err := s.clients.GetClient(ctx, booking.ClientID)
	if err != nil {
		return nil, err
	}
	svc, err := s.services.GetService(ctx, booking.ServiceID)
	if err != nil {
		return nil, err
	}

	channel := s.pickChannel(client)
	if channel == "" {
		s.logger.Warn().
			Int64("booking_id", bookingID).
			Int64("client_id", client.ID).
			Msg("Client has no reachable channel, notification not scheduled")
		return nil, nil
	}

	vars := s.bookingVariables(booking, client, svc)
	for k, v := range extra {
		vars[k] = v
	}

	n, err := s.scheduler.Schedule(ctx, notification.Request{
		ClientID:     client.ID,
		BookingID:    booking.ID,
		Type:         notificationType,
		Channel:      channel,
		ScheduledFor: fireAt(booking),
		TemplateName: notification.TemplateName(templateBase, channel),
		Variables:    vars,
	})
	// a concurrent call queued the same notification after the guard above
	if errors.Is(err, domain.ErrAlreadyPending) {
		s.logger.Debug().
			Int64("booking_id", bookingID).
			Str("type", string(notificationType)).
			Msg("Notification already pending")
		return nil, nil
	}
	return n, err
}

func (s *NotificationService) pickChannel(client *models.Client) string {
	for _, channel := range s.settings.Channels {
		if _, err := channels.Recipient(client, channel); err == nil {
			return channel
		}
	}
	return ""
}

func (s *NotificationService) bookingVariables(b *models.Booking, c *models.Client, svc *models.Service) map[string]string {
	local := b.StartsAt.In(s.settings.Location)
	return map[string]string{
		"client_name":   c.Name,
		"service_name":  svc.Name,
		"date":          local.Format("02.01.2006"),
		"time":          local.Format("15:04"),
		"duration":      fmt.Sprintf("%d", b.DurationMinutes),
		"business_name": s.settings.BusinessName,
	}
}
