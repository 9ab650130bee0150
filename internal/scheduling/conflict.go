// Package scheduling computes open slots, detects booking conflicts and picks
// a free professional for a requested time.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/timewindow"
)

// Candidate is a booking that has not been written yet.
type Candidate struct {
	Start            time.Time
	DurationMinutes  int
	ServiceID        int64
	ProfessionalID   int64
	ExcludeBookingID int64
}

func (c Candidate) Interval() timewindow.Interval {
	return timewindow.NewInterval(c.Start, c.DurationMinutes)
}

type ConflictValidator struct {
	professionals domain.ProfessionalLookup
	bookings      domain.BookingStore
	hours         domain.BusinessHoursSource
	loc           *time.Location
	now           func() time.Time
}

// NewConflictValidator checks schedules in loc. hours may be nil, then
// shared-calendar bookings are not limited to business hours.
func NewConflictValidator(professionals domain.ProfessionalLookup, bookings domain.BookingStore, hours domain.BusinessHoursSource, loc *time.Location) *ConflictValidator {
	if loc == nil {
		loc = time.UTC
	}
	return &ConflictValidator{
		professionals: professionals,
		bookings:      bookings,
		hours:         hours,
		loc:           loc,
		now:           time.Now,
	}
}

// Validate returns every reason the candidate cannot be booked. An empty
// result means the slot is free; error is reserved for lookup failures.
func (v *ConflictValidator) Validate(ctx context.Context, c Candidate) ([]domain.Conflict, error) {
	var conflicts []domain.Conflict

	if c.Start.Before(v.now()) {
		conflicts = append(conflicts, domain.Conflict{
			Kind:     domain.ConflictPastDate,
			Message:  "booking starts in the past",
			StartsAt: c.Start,
		})
	}

	var (
		scheduleConflict *domain.Conflict
		err              error
	)
	if c.ProfessionalID != models.SharedCalendarID {
		scheduleConflict, err = v.checkProfessional(ctx, c)
	} else {
		scheduleConflict, err = v.checkBusinessHours(ctx, c)
	}
	if err != nil {
		return nil, err
	}
	if scheduleConflict != nil {
		conflicts = append(conflicts, *scheduleConflict)
	}

	busy, err := v.BlockingBookings(ctx, c.ProfessionalID, c.Interval(), c.ExcludeBookingID)
	if err != nil {
		return nil, err
	}
	for _, b := range busy {
		conflicts = append(conflicts, domain.Conflict{
			Kind:           domain.ConflictProfessionalBusy,
			Message:        fmt.Sprintf("overlaps booking %d", b.ID),
			BookingID:      b.ID,
			ProfessionalID: b.ProfessionalID,
			StartsAt:       b.StartsAt,
		})
	}

	return conflicts, nil
}

// checkProfessional reports at most one problem: a missing, inactive or
// unqualified professional first, then a slot outside their weekly schedule.
func (v *ConflictValidator) checkProfessional(ctx context.Context, c Candidate) (*domain.Conflict, error) {
	professionalID := c.ProfessionalID
	p, err := v.professionals.GetProfessional(ctx, professionalID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Conflict{
			Kind:           domain.ConflictServiceMismatch,
			Message:        "professional does not exist",
			ProfessionalID: professionalID,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load professional %d: %w", professionalID, err)
	}
	if !p.IsActive {
		return &domain.Conflict{
			Kind:           domain.ConflictServiceMismatch,
			Message:        "professional is inactive",
			ProfessionalID: professionalID,
		}, nil
	}
	if !p.HasSpecialty(c.ServiceID) {
		return &domain.Conflict{
			Kind:           domain.ConflictServiceMismatch,
			Message:        fmt.Sprintf("professional does not perform service %d", c.ServiceID),
			ProfessionalID: professionalID,
		}, nil
	}
	if !WithinSchedule(p.Schedule, v.localInterval(c)) {
		return &domain.Conflict{
			Kind:           domain.ConflictOutsideSchedule,
			Message:        "outside professional schedule",
			ProfessionalID: professionalID,
			StartsAt:       c.Start,
		}, nil
	}
	return nil, nil
}

// checkBusinessHours limits shared-calendar bookings to the salon's opening
// hours. Unconfigured hours leave the shared calendar unrestricted.
func (v *ConflictValidator) checkBusinessHours(ctx context.Context, c Candidate) (*domain.Conflict, error) {
	if v.hours == nil {
		return nil, nil
	}
	hours, err := v.hours.GetBusinessHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("load business hours: %w", err)
	}
	if len(hours) == 0 || WithinSchedule(hours, v.localInterval(c)) {
		return nil, nil
	}
	return &domain.Conflict{
		Kind:     domain.ConflictOutsideSchedule,
		Message:  "outside business hours",
		StartsAt: c.Start,
	}, nil
}

func (v *ConflictValidator) localInterval(c Candidate) timewindow.Interval {
	return timewindow.NewInterval(c.Start.In(v.loc), c.DurationMinutes)
}

// IsBusy reports whether a confirmed booking blocks the professional during
// [start, start+minutes). Shared-calendar bookings block everyone.
func (v *ConflictValidator) IsBusy(ctx context.Context, professionalID int64, start time.Time, minutes int, excludeBookingID int64) (bool, error) {
	busy, err := v.BlockingBookings(ctx, professionalID, timewindow.NewInterval(start, minutes), excludeBookingID)
	if err != nil {
		return false, err
	}
	return len(busy) > 0, nil
}

// BlockingBookings lists confirmed bookings that block the professional
// anywhere in window.
func (v *ConflictValidator) BlockingBookings(ctx context.Context, professionalID int64, window timewindow.Interval, excludeBookingID int64) ([]*models.Booking, error) {
	var pid *int64
	if professionalID != models.SharedCalendarID {
		pid = &professionalID
	}
	bookings, err := v.bookings.FindOverlapping(ctx, pid, window.Start, window.End, excludeBookingID)
	if err != nil {
		return nil, fmt.Errorf("find overlapping bookings: %w", err)
	}
	return bookings, nil
}

// overlapsAny is the in-memory form of the store's overlap predicate.
func overlapsAny(bookings []*models.Booking, slot timewindow.Interval) bool {
	for _, b := range bookings {
		if timewindow.Overlaps(timewindow.NewInterval(b.StartsAt, b.DurationMinutes), slot) {
			return true
		}
	}
	return false
}
