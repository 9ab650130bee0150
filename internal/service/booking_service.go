package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/scheduling"

	"github.com/rs/zerolog"
)

type CreateBookingRequest struct {
	ClientID       int64     `json:"client_id"`
	ServiceID      int64     `json:"service_id"`
	// ProfessionalID 0 asks for automatic assignment.
	ProfessionalID int64     `json:"professional_id"`
	StartsAt       time.Time `json:"starts_at"`
	Notes          string    `json:"notes"`
}

// UpdateBookingRequest changes only the non-nil fields.
type UpdateBookingRequest struct {
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	ProfessionalID *int64     `json:"professional_id,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

type BookingDeps struct {
	Services     domain.ServiceLookup
	Clients      domain.ClientLookup
	Bookings     domain.BookingStore
	Validator    *scheduling.ConflictValidator
	Assigner     *scheduling.ProfessionalAssigner
	Availability *scheduling.AvailabilityCalculator
	Locker       domain.Locker
	EventBus     domain.EventPublisher
}

type BookingService struct {
	services     domain.ServiceLookup
	clients      domain.ClientLookup
	bookings     domain.BookingStore
	validator    *scheduling.ConflictValidator
	assigner     *scheduling.ProfessionalAssigner
	availability *scheduling.AvailabilityCalculator
	locker       domain.Locker
	eventBus     domain.EventPublisher
	cfg          config.BookingConfig
	logger       *zerolog.Logger
	now          func() time.Time
}

func NewBookingService(deps BookingDeps, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	if cfg.MinAdvance <= 0 {
		cfg.MinAdvance = models.MinBookingAdvanceMinutes * time.Minute
	}
	if cfg.CancelWindow <= 0 {
		cfg.CancelWindow = models.CancelWindowMinutes * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &BookingService{
		services:     deps.Services,
		clients:      deps.Clients,
		bookings:     deps.Bookings,
		validator:    deps.Validator,
		assigner:     deps.Assigner,
		availability: deps.Availability,
		locker:       deps.Locker,
		eventBus:     deps.EventBus,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateBooking validates, assigns and stores a new booking. It starts as
// pending_payment when the service requires prepayment, confirmed otherwise.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if req.StartsAt.IsZero() {
		return nil, fmt.Errorf("%w: starts_at is required", domain.ErrValidation)
	}
	if _, err := s.clients.GetClient(ctx, req.ClientID); err != nil {
		return nil, err
	}
	service, err := s.activeService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAdvance(req.StartsAt); err != nil {
		return nil, err
	}

	var booking *models.Booking
	err = s.withLock(ctx, req.ProfessionalID, func() error {
		professionalID := req.ProfessionalID
		if professionalID == 0 {
			assigned, err := s.assigner.Assign(ctx, service.ID, req.StartsAt, service.DurationMinutes)
			if err != nil {
				return err
			}
			switch {
			case assigned != nil:
				professionalID = assigned.ID
			case !s.cfg.AllowUnassigned:
				return s.conflict([]domain.Conflict{{
					Kind:     domain.ConflictProfessionalBusy,
					Message:  "no professional available",
					StartsAt: req.StartsAt,
				}})
			}
		}

		conflicts, err := s.validator.Validate(ctx, scheduling.Candidate{
			Start:           req.StartsAt,
			DurationMinutes: service.DurationMinutes,
			ServiceID:       service.ID,
			ProfessionalID:  professionalID,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return s.conflict(conflicts)
		}

		booking = &models.Booking{
			ClientID:        req.ClientID,
			ServiceID:       service.ID,
			ProfessionalID:  professionalID,
			StartsAt:        req.StartsAt,
			DurationMinutes: service.DurationMinutes,
			Status:          models.StatusConfirmed,
			Notes:           req.Notes,
			PaymentStatus:   models.PaymentStatusNone,
		}
		if service.RequiresPrepayment {
			booking.Status = models.StatusPendingPayment
			booking.PaymentStatus = models.PaymentStatusPending
			booking.PaymentAmount = service.Price
		}

		return s.store(ctx, s.bookings.CreateBookingWithLock, booking)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("professional_id", booking.ProfessionalID).
		Time("starts_at", booking.StartsAt).
		Str("status", booking.Status).
		Msg("Booking created")
	metrics.IncBookingTransition(booking.Status)
	s.publish(events.EventBookingCreated, booking, time.Time{})
	return booking, nil
}

// UpdateBooking reschedules, reassigns or edits notes. A changed slot is
// re-validated with the booking itself excluded; the version check makes the
// write all-or-nothing.
func (s *BookingService) UpdateBooking(ctx context.Context, id int64, req UpdateBookingRequest) (*models.Booking, error) {
	current, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(current.Status) {
		return nil, fmt.Errorf("%w: booking %d is %s", domain.ErrTooLate, id, current.Status)
	}

	updated := *current
	slotChanged := false
	if req.StartsAt != nil && !req.StartsAt.Equal(current.StartsAt) {
		updated.StartsAt = *req.StartsAt
		slotChanged = true
	}
	if req.ProfessionalID != nil && *req.ProfessionalID != current.ProfessionalID {
		updated.ProfessionalID = *req.ProfessionalID
		slotChanged = true
	}
	if req.Notes != nil {
		updated.Notes = *req.Notes
	}

	if !slotChanged {
		if err := s.store(ctx, s.bookings.UpdateBookingWithVersion, &updated); err != nil {
			return nil, err
		}
		return &updated, nil
	}

	if err := s.checkAdvance(updated.StartsAt); err != nil {
		return nil, err
	}
	if updated.ProfessionalID == models.SharedCalendarID && !s.cfg.AllowUnassigned {
		return nil, fmt.Errorf("%w: professional is required", domain.ErrValidation)
	}

	err = s.withLock(ctx, updated.ProfessionalID, func() error {
		conflicts, err := s.validator.Validate(ctx, scheduling.Candidate{
			Start:            updated.StartsAt,
			DurationMinutes:  updated.DurationMinutes,
			ServiceID:        updated.ServiceID,
			ProfessionalID:   updated.ProfessionalID,
			ExcludeBookingID: updated.ID,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return s.conflict(conflicts)
		}
		return s.store(ctx, s.bookings.UpdateBookingWithVersion, &updated)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", id).
		Time("from", current.StartsAt).
		Time("to", updated.StartsAt).
		Int64("professional_id", updated.ProfessionalID).
		Msg("Booking rescheduled")
	s.publish(events.EventBookingRescheduled, &updated, current.StartsAt)
	return &updated, nil
}

// ConfirmBooking records the payment of a pending_payment booking. Pending
// bookings never block anyone, so the slot is checked again. A booking that
// has already started can no longer be confirmed.
func (s *BookingService) ConfirmBooking(ctx context.Context, id int64, paymentReference string) (*models.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(booking, models.StatusPendingPayment); err != nil {
		return nil, err
	}
	if !s.now().Before(booking.StartsAt) {
		return nil, fmt.Errorf("%w: booking %d has already started", domain.ErrTooLate, id)
	}

	err = s.withLock(ctx, booking.ProfessionalID, func() error {
		busy, err := s.validator.BlockingBookings(ctx, booking.ProfessionalID,
			scheduling.Candidate{Start: booking.StartsAt, DurationMinutes: booking.DurationMinutes}.Interval(), booking.ID)
		if err != nil {
			return err
		}
		if len(busy) > 0 {
			conflicts := make([]domain.Conflict, 0, len(busy))
			for _, b := range busy {
				conflicts = append(conflicts, domain.Conflict{
					Kind:           domain.ConflictProfessionalBusy,
					Message:        fmt.Sprintf("overlaps booking %d", b.ID),
					BookingID:      b.ID,
					ProfessionalID: b.ProfessionalID,
					StartsAt:       b.StartsAt,
				})
			}
			return s.conflict(conflicts)
		}

		booking.Status = models.StatusConfirmed
		booking.PaymentStatus = models.PaymentStatusReceived
		booking.PaymentReference = paymentReference
		return s.store(ctx, s.bookings.UpdateBookingWithVersion, booking)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(booking.Status)
	s.publish(events.EventBookingConfirmed, booking, time.Time{})
	return booking, nil
}

// CancelBooking is allowed until the cancel window before the start.
func (s *BookingService) CancelBooking(ctx context.Context, id int64, reason string) (*models.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(booking.Status) {
		return nil, fmt.Errorf("%w: booking %d is %s", domain.ErrTooLate, id, booking.Status)
	}
	if booking.StartsAt.Sub(s.now()) < s.cfg.CancelWindow {
		return nil, fmt.Errorf("%w: bookings can be cancelled up to %s before the start", domain.ErrTooLate, s.cfg.CancelWindow)
	}

	booking.Status = models.StatusCancelled
	booking.CancelReason = reason
	if err := s.store(ctx, s.bookings.UpdateBookingWithVersion, booking); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("booking_id", id).Str("reason", reason).Msg("Booking cancelled")
	metrics.IncBookingTransition(booking.Status)
	s.publish(events.EventBookingCancelled, booking, time.Time{})
	return booking, nil
}

func (s *BookingService) CompleteBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.finish(ctx, id, models.StatusCompleted, events.EventBookingCompleted)
}

func (s *BookingService) MarkNoShow(ctx context.Context, id int64) (*models.Booking, error) {
	return s.finish(ctx, id, models.StatusNoShow, events.EventBookingNoShow)
}

// finish moves a confirmed booking that has already started into a terminal state.
func (s *BookingService) finish(ctx context.Context, id int64, status, eventType string) (*models.Booking, error) {
	booking, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(booking, models.StatusConfirmed); err != nil {
		return nil, err
	}
	if s.now().Before(booking.StartsAt) {
		return nil, fmt.Errorf("%w: booking %d has not started yet", domain.ErrValidation, id)
	}

	booking.Status = status
	if err := s.store(ctx, s.bookings.UpdateBookingWithVersion, booking); err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(status)
	s.publish(eventType, booking, time.Time{})
	return booking, nil
}

func (s *BookingService) GetAvailability(ctx context.Context, serviceID int64, from, to time.Time, preferredProfessionalID int64) ([]models.AvailabilitySlot, error) {
	return s.availability.Slots(ctx, scheduling.AvailabilityQuery{
		ServiceID:      serviceID,
		From:           from,
		To:             to,
		ProfessionalID: preferredProfessionalID,
	})
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.bookings.GetBooking(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return s.bookings.ListBookings(ctx, filter)
}

func (s *BookingService) activeService(ctx context.Context, id int64) (*models.Service, error) {
	service, err := s.services.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if !service.IsActive {
		return nil, fmt.Errorf("service %d inactive: %w", id, domain.ErrNotFound)
	}
	return service, nil
}

func (s *BookingService) checkAdvance(start time.Time) error {
	if start.Before(s.now().Add(s.cfg.MinAdvance)) {
		return fmt.Errorf("%w: must book at least %s ahead", domain.ErrValidation, s.cfg.MinAdvance)
	}
	return nil
}

// withLock serializes check-and-write per professional. Automatic
// assignment shares one key because the professional is not known yet.
func (s *BookingService) withLock(ctx context.Context, professionalID int64, fn func() error) error {
	key := "professional:any"
	if professionalID != 0 {
		key = fmt.Sprintf("professional:%d", professionalID)
	}
	release, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire booking lock %s: %w", key, err)
	}
	defer release()
	return fn()
}

// store runs a write and counts conflicts the store detected on its own.
func (s *BookingService) store(ctx context.Context, write func(context.Context, *models.Booking) error, booking *models.Booking) error {
	err := write(ctx, booking)
	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		s.recordConflicts(conflictErr.Conflicts)
	}
	return err
}

func (s *BookingService) conflict(conflicts []domain.Conflict) error {
	s.recordConflicts(conflicts)
	return domain.NewConflictError(conflicts)
}

func (s *BookingService) recordConflicts(conflicts []domain.Conflict) {
	for _, c := range conflicts {
		metrics.IncBookingConflict(string(c.Kind))
	}
}

func (s *BookingService) publish(eventType string, b *models.Booking, previousStart time.Time) {
	if s.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:        b.ID,
		ClientID:         b.ClientID,
		ServiceID:        b.ServiceID,
		ProfessionalID:   b.ProfessionalID,
		Status:           b.Status,
		StartsAt:         b.StartsAt,
		DurationMinutes:  b.DurationMinutes,
		PreviousStartsAt: previousStart,
		CancelReason:     b.CancelReason,
		OccurredAt:       s.now(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Int64("booking_id", b.ID).Msg("Failed to publish booking event")
	}
}

func requireStatus(b *models.Booking, want string) error {
	if b.Status == want {
		return nil
	}
	if models.IsTerminalStatus(b.Status) {
		return fmt.Errorf("%w: booking %d is %s", domain.ErrTooLate, b.ID, b.Status)
	}
	return fmt.Errorf("%w: booking %d is %s, expected %s", domain.ErrValidation, b.ID, b.Status, want)
}
