package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrValidation             = errors.New("validation failed")
	ErrInvalidRange           = fmt.Errorf("%w: invalid date range", ErrValidation)
	ErrConflict               = errors.New("booking conflict")
	ErrTooLate                = errors.New("operation no longer allowed")
	ErrInvalidTemplate        = errors.New("invalid notification template")
	ErrDelivery               = errors.New("notification delivery failed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrLockNotAcquired        = errors.New("lock not acquired")
	ErrAlreadyPending         = errors.New("notification already pending")
)

// ConflictKind classifies why a candidate booking was rejected.
type ConflictKind string

const (
	ConflictPastDate         ConflictKind = "past_date"
	ConflictServiceMismatch  ConflictKind = "service_mismatch"
	ConflictProfessionalBusy ConflictKind = "professional_busy"
	ConflictOutsideSchedule  ConflictKind = "outside_schedule"
)

// Conflict is one reason a candidate booking cannot be placed.
type Conflict struct {
	Kind           ConflictKind `json:"kind"`
	Message        string       `json:"message"`
	BookingID      int64        `json:"booking_id,omitempty"`
	ProfessionalID int64        `json:"professional_id,omitempty"`
	StartsAt       time.Time    `json:"starts_at,omitempty"`
}

// ConflictError carries the full conflict list. errors.Is(err, ErrConflict) holds.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return ErrConflict.Error()
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s: %s", c.Kind, c.Message))
	}
	return ErrConflict.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// NewConflictError returns nil when there are no conflicts.
func NewConflictError(conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	return &ConflictError{Conflicts: conflicts}
}
