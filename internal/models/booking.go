package models

import "time"

type Booking struct {
	ID               int64     `json:"id"`
	ClientID         int64     `json:"client_id"`
	ServiceID        int64     `json:"service_id"`
	ProfessionalID   int64     `json:"professional_id"` // 0 = shared calendar
	StartsAt         time.Time `json:"starts_at"`
	DurationMinutes  int       `json:"duration_minutes"`
	Status           string    `json:"status"` // pending_payment, confirmed, cancelled, completed, no_show
	Notes            string    `json:"notes"`
	PaymentStatus    string    `json:"payment_status"`
	PaymentAmount    float64   `json:"payment_amount"`
	PaymentReference string    `json:"payment_reference"`
	CancelReason     string    `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Version          int64     `json:"version"`
}

// EndsAt returns the exclusive end of the booked interval.
func (b *Booking) EndsAt() time.Time {
	return b.StartsAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// BookingFilter narrows ListBookings. Zero values are ignored.
type BookingFilter struct {
	ClientID       int64
	ProfessionalID *int64
	Statuses       []string
	From           time.Time
	To             time.Time
	Limit          int
}

// AvailabilitySlot is a candidate window; it is recomputed on every query.
type AvailabilitySlot struct {
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	DurationMinutes int       `json:"duration_minutes"`
	ProfessionalID  int64     `json:"professional_id"`
	Available       bool      `json:"available"`
}
