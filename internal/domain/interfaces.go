package domain

import (
	"context"
	"time"

	"salonbook/internal/models"
)

type ServiceLookup interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
}

type ProfessionalLookup interface {
	GetProfessional(ctx context.Context, id int64) (*models.Professional, error)
	ListActiveProfessionals(ctx context.Context) ([]*models.Professional, error)
}

type ClientLookup interface {
	GetClient(ctx context.Context, id int64) (*models.Client, error)
}

// BusinessHoursSource provides the company-wide weekly schedule.
type BusinessHoursSource interface {
	GetBusinessHours(ctx context.Context) (models.WeeklySchedule, error)
}

type BookingStore interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	// CreateBookingWithLock re-checks overlap with confirmed bookings and
	// inserts in one serialized transaction. Returns ErrConflict on overlap.
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	// UpdateBookingWithVersion writes the booking only if the stored version
	// still equals booking.Version. Overlap is re-checked when the booking is
	// confirmed. Returns ErrConcurrentModification on a version mismatch.
	UpdateBookingWithVersion(ctx context.Context, booking *models.Booking) error
	// FindOverlapping returns confirmed bookings intersecting [start, end)
	// that block the professional: its own plus shared-calendar bookings.
	// A nil or shared-calendar professional is blocked by every booking.
	FindOverlapping(ctx context.Context, professionalID *int64, start, end time.Time, excludeID int64) ([]*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.ScheduledNotification) error
	GetNotification(ctx context.Context, id int64) (*models.ScheduledNotification, error)
	FindDueNotifications(ctx context.Context, now time.Time, maxRetries, limit int) ([]*models.ScheduledNotification, error)
	MarkNotificationSent(ctx context.Context, id int64, sentAt time.Time, externalID string) error
	MarkNotificationRetry(ctx context.Context, id int64, retryCount int, errMsg string, nextAttemptAt *time.Time) error
	MarkNotificationFailed(ctx context.Context, id int64, retryCount int, errMsg string) error
	CancelPendingNotifications(ctx context.Context, bookingID int64, types ...models.NotificationType) (int64, error)
	HasPendingNotification(ctx context.Context, bookingID int64, notificationType models.NotificationType) (bool, error)
	ListNotificationsByBooking(ctx context.Context, bookingID int64) ([]*models.ScheduledNotification, error)
}

// Message is a rendered notification ready for a channel.
type Message struct {
	NotificationID int64
	Channel        string
	Recipient      string
	Subject        string
	Body           string
}

type ChannelSender interface {
	// Send delivers the message and returns the provider's message id.
	Send(ctx context.Context, msg Message) (string, error)
}

type Locker interface {
	// Acquire returns a release func or ErrLockNotAcquired.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// DeadLetterSink receives notifications that exhausted their retries.
type DeadLetterSink interface {
	PushDeadLetter(ctx context.Context, n *models.ScheduledNotification) error
}
