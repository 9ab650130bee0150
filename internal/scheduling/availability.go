package scheduling

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/timewindow"
)

// AvailabilityQuery asks for slots of one service. ProfessionalID 0 means
// the general (business hours) calendar.
type AvailabilityQuery struct {
	ServiceID      int64
	From           time.Time
	To             time.Time
	ProfessionalID int64
}

type AvailabilityCalculator struct {
	services      domain.ServiceLookup
	professionals domain.ProfessionalLookup
	hours         domain.BusinessHoursSource
	validator     *ConflictValidator
	loc           *time.Location
	stepMinutes   int
	maxRangeDays  int
	now           func() time.Time
}

func NewAvailabilityCalculator(
	services domain.ServiceLookup,
	professionals domain.ProfessionalLookup,
	hours domain.BusinessHoursSource,
	validator *ConflictValidator,
	loc *time.Location,
) *AvailabilityCalculator {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityCalculator{
		services:      services,
		professionals: professionals,
		hours:         hours,
		validator:     validator,
		loc:           loc,
		stepMinutes:   models.SlotStepMinutes,
		maxRangeDays:  models.MaxAvailabilityRangeDays,
		now:           time.Now,
	}
}

// SetLimits overrides the slot step and the maximum query range.
func (c *AvailabilityCalculator) SetLimits(stepMinutes, maxRangeDays int) {
	if stepMinutes > 0 {
		c.stepMinutes = stepMinutes
	}
	if maxRangeDays > 0 {
		c.maxRangeDays = maxRangeDays
	}
}

// Slots walks every working day in [From, To] and returns whole slots in
// ascending order. Slots that touch lunch or run past closing are omitted;
// the rest carry Available=false when taken or already started.
func (c *AvailabilityCalculator) Slots(ctx context.Context, q AvailabilityQuery) ([]models.AvailabilitySlot, error) {
	from, to := q.From.In(c.loc), q.To.In(c.loc)
	if from.After(to) {
		return nil, fmt.Errorf("%w: from is after to", domain.ErrInvalidRange)
	}
	if to.Sub(from) > time.Duration(c.maxRangeDays)*24*time.Hour {
		return nil, fmt.Errorf("%w: range exceeds %d days", domain.ErrInvalidRange, c.maxRangeDays)
	}

	service, err := c.services.GetService(ctx, q.ServiceID)
	if err != nil {
		return nil, err
	}
	if !service.IsActive {
		return nil, fmt.Errorf("service %d inactive: %w", service.ID, domain.ErrNotFound)
	}

	schedule, err := c.resolveSchedule(ctx, q.ProfessionalID, service.ID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var slots []models.AvailabilitySlot
	for _, day := range timewindow.Days(from, to) {
		daySched, open := schedule.Day(day.Weekday())
		if !open {
			continue
		}

		daySlots, err := c.daySlots(ctx, day, daySched, service.DurationMinutes, q.ProfessionalID, now)
		if err != nil {
			return nil, err
		}
		slots = append(slots, daySlots...)
	}
	return slots, nil
}

func (c *AvailabilityCalculator) resolveSchedule(ctx context.Context, professionalID, serviceID int64) (models.WeeklySchedule, error) {
	if professionalID == models.SharedCalendarID {
		hours, err := c.hours.GetBusinessHours(ctx)
		if err != nil {
			return nil, fmt.Errorf("load business hours: %w", err)
		}
		return hours, nil
	}

	p, err := c.professionals.GetProfessional(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("professional %d inactive: %w", p.ID, domain.ErrNotFound)
	}
	if !p.HasSpecialty(serviceID) {
		return nil, fmt.Errorf("%w: professional %d does not perform service %d", domain.ErrValidation, p.ID, serviceID)
	}
	return p.Schedule, nil
}

func (c *AvailabilityCalculator) daySlots(
	ctx context.Context,
	day time.Time,
	sched models.DaySchedule,
	duration int,
	professionalID int64,
	now time.Time,
) ([]models.AvailabilitySlot, error) {
	lunch, hasLunch, err := lunchWindow(day, sched)
	if err != nil {
		return nil, err
	}

	var slots []models.AvailabilitySlot
	for _, shift := range sched.Shifts {
		window, err := timewindow.Window(day, shift.Start, shift.End)
		if err != nil {
			return nil, fmt.Errorf("shift on %s: %w", day.Format("2006-01-02"), err)
		}

		busy, err := c.validator.BlockingBookings(ctx, professionalID, window, 0)
		if err != nil {
			return nil, err
		}

		for t := window.Start; !timewindow.AddMinutes(t, duration).After(window.End); t = timewindow.AddMinutes(t, c.stepMinutes) {
			slot := timewindow.NewInterval(t, duration)
			if hasLunch && timewindow.Overlaps(slot, lunch) {
				continue
			}
			slots = append(slots, models.AvailabilitySlot{
				StartsAt:        slot.Start,
				EndsAt:          slot.End,
				DurationMinutes: duration,
				ProfessionalID:  professionalID,
				Available:       !slot.Start.Before(now) && !overlapsAny(busy, slot),
			})
		}
	}
	return slots, nil
}

func lunchWindow(day time.Time, sched models.DaySchedule) (timewindow.Interval, bool, error) {
	if !sched.HasLunch() {
		return timewindow.Interval{}, false, nil
	}
	lunch, err := timewindow.Window(day, sched.LunchStart, sched.LunchEnd)
	if err != nil {
		return timewindow.Interval{}, false, fmt.Errorf("lunch on %s: %w", day.Format("2006-01-02"), err)
	}
	return lunch, true, nil
}

// WithinSchedule reports whether slot fits entirely inside one shift of the
// weekly schedule and does not touch lunch.
func WithinSchedule(schedule models.WeeklySchedule, slot timewindow.Interval) bool {
	daySched, open := schedule.Day(slot.Start.Weekday())
	if !open {
		return false
	}
	lunch, hasLunch, err := lunchWindow(slot.Start, daySched)
	if err != nil {
		return false
	}
	if hasLunch && timewindow.Overlaps(slot, lunch) {
		return false
	}
	for _, shift := range daySched.Shifts {
		window, err := timewindow.Window(slot.Start, shift.Start, shift.End)
		if err != nil {
			continue
		}
		if timewindow.Contains(window, slot) {
			return true
		}
	}
	return false
}
