package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/timewindow"
)

type ProfessionalAssigner struct {
	professionals domain.ProfessionalLookup
	validator     *ConflictValidator
	loc           *time.Location
}

func NewProfessionalAssigner(professionals domain.ProfessionalLookup, validator *ConflictValidator, loc *time.Location) *ProfessionalAssigner {
	if loc == nil {
		loc = time.UTC
	}
	return &ProfessionalAssigner{professionals: professionals, validator: validator, loc: loc}
}

// Assign returns the first active professional, by name then id, who performs
// the service, works the whole interval and is not busy. nil, nil means
// nobody qualifies.
func (a *ProfessionalAssigner) Assign(ctx context.Context, serviceID int64, start time.Time, durationMinutes int) (*models.Professional, error) {
	professionals, err := a.professionals.ListActiveProfessionals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list professionals: %w", err)
	}

	sort.SliceStable(professionals, func(i, j int) bool {
		if professionals[i].Name != professionals[j].Name {
			return professionals[i].Name < professionals[j].Name
		}
		return professionals[i].ID < professionals[j].ID
	})

	slot := timewindow.NewInterval(start.In(a.loc), durationMinutes)
	for _, p := range professionals {
		if !p.IsActive || !p.HasSpecialty(serviceID) {
			continue
		}
		if !WithinSchedule(p.Schedule, slot) {
			continue
		}
		busy, err := a.validator.IsBusy(ctx, p.ID, slot.Start, durationMinutes, 0)
		if err != nil {
			return nil, err
		}
		if !busy {
			return p, nil
		}
	}
	return nil, nil
}
