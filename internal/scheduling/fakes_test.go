package scheduling

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/timewindow"
)

// fakeStore keeps the catalog and bookings in maps. It applies the same
// blocking rule as the SQLite store.
type fakeStore struct {
	services      map[int64]*models.Service
	professionals map[int64]*models.Professional
	bookings      []*models.Booking
	hours         models.WeeklySchedule
	findErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		services:      map[int64]*models.Service{},
		professionals: map[int64]*models.Professional{},
	}
}

func (f *fakeStore) GetService(_ context.Context, id int64) (*models.Service, error) {
	s, ok := f.services[id]
	if !ok {
		return nil, fmt.Errorf("service %d: %w", id, domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeStore) GetProfessional(_ context.Context, id int64) (*models.Professional, error) {
	p, ok := f.professionals[id]
	if !ok {
		return nil, fmt.Errorf("professional %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (f *fakeStore) ListActiveProfessionals(_ context.Context) ([]*models.Professional, error) {
	var out []*models.Professional
	for _, p := range f.professionals {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetBusinessHours(_ context.Context) (models.WeeklySchedule, error) {
	return f.hours, nil
}

func (f *fakeStore) GetBooking(_ context.Context, id int64) (*models.Booking, error) {
	for _, b := range f.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) CreateBookingWithLock(_ context.Context, b *models.Booking) error {
	b.ID = int64(len(f.bookings) + 1)
	f.bookings = append(f.bookings, b)
	return nil
}

func (f *fakeStore) UpdateBookingWithVersion(_ context.Context, _ *models.Booking) error {
	return nil
}

func (f *fakeStore) FindOverlapping(_ context.Context, professionalID *int64, start, end time.Time, excludeID int64) ([]*models.Booking, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	window := timewindow.Interval{Start: start, End: end}
	var out []*models.Booking
	for _, b := range f.bookings {
		if b.Status != models.StatusConfirmed || b.ID == excludeID {
			continue
		}
		if professionalID != nil && *professionalID != 0 && b.ProfessionalID != *professionalID && b.ProfessionalID != 0 {
			continue
		}
		if timewindow.Overlaps(timewindow.NewInterval(b.StartsAt, b.DurationMinutes), window) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBookings(_ context.Context, _ models.BookingFilter) ([]*models.Booking, error) {
	return f.bookings, nil
}

func (f *fakeStore) addConfirmed(professionalID int64, start time.Time, minutes int) *models.Booking {
	b := &models.Booking{
		ID:              int64(len(f.bookings) + 1),
		ProfessionalID:  professionalID,
		StartsAt:        start,
		DurationMinutes: minutes,
		Status:          models.StatusConfirmed,
	}
	f.bookings = append(f.bookings, b)
	return b
}

func weekdaySchedule(days ...time.Weekday) models.WeeklySchedule {
	s := models.WeeklySchedule{}
	for _, d := range days {
		s[d] = models.DaySchedule{
			Open:       true,
			Shifts:     []models.Shift{{Start: "09:00", End: "18:00"}},
			LunchStart: "13:00",
			LunchEnd:   "14:00",
		}
	}
	return s
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
