package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/models"
	"salonbook/internal/timewindow"
)

// Catalog is the seed data synced into the store on startup.
type Catalog struct {
	Services      []models.Service      `yaml:"services"`
	Professionals []models.Professional `yaml:"professionals"`
	Clients       []models.Client       `yaml:"clients"`
}

// ValidateCatalog checks ids, names and references. Professionals refer to
// services by id, so every catalog entry needs an explicit one.
func ValidateCatalog(c Catalog) error {
	services := make(map[int64]bool, len(c.Services))
	for i, s := range c.Services {
		if s.ID <= 0 {
			return fmt.Errorf("service #%d: id is required", i+1)
		}
		if services[s.ID] {
			return fmt.Errorf("duplicate service id %d", s.ID)
		}
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("service %d: name is required", s.ID)
		}
		if s.DurationMinutes <= 0 {
			return fmt.Errorf("service %d: duration_minutes must be positive", s.ID)
		}
		if s.Price < 0 {
			return fmt.Errorf("service %d: price must not be negative", s.ID)
		}
		services[s.ID] = true
	}

	professionals := make(map[int64]bool, len(c.Professionals))
	for i, p := range c.Professionals {
		if p.ID <= 0 {
			return fmt.Errorf("professional #%d: id is required", i+1)
		}
		if professionals[p.ID] {
			return fmt.Errorf("duplicate professional id %d", p.ID)
		}
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("professional %d: name is required", p.ID)
		}
		for _, sid := range p.Specialties {
			if !services[sid] {
				return fmt.Errorf("professional %d: unknown service %d", p.ID, sid)
			}
		}
		if err := validateShifts(p.Schedule); err != nil {
			return fmt.Errorf("professional %d: %w", p.ID, err)
		}
		professionals[p.ID] = true
	}

	clients := make(map[int64]bool, len(c.Clients))
	for i, cl := range c.Clients {
		if cl.ID <= 0 {
			return fmt.Errorf("client #%d: id is required", i+1)
		}
		if clients[cl.ID] {
			return fmt.Errorf("duplicate client id %d", cl.ID)
		}
		if strings.TrimSpace(cl.Name) == "" {
			return fmt.Errorf("client %d: name is required", cl.ID)
		}
		clients[cl.ID] = true
	}
	return nil
}

// validateShifts allows several shifts per day, unlike business hours.
func validateShifts(schedule models.WeeklySchedule) error {
	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	for day, sched := range schedule {
		if !sched.Open {
			continue
		}
		if len(sched.Shifts) == 0 {
			return errors.New(day.String() + " is open without shifts")
		}
		for _, shift := range sched.Shifts {
			if _, err := timewindow.Window(ref, shift.Start, shift.End); err != nil {
				return fmt.Errorf("%s: %w", day, err)
			}
		}
		if sched.HasLunch() {
			if _, err := timewindow.Window(ref, sched.LunchStart, sched.LunchEnd); err != nil {
				return fmt.Errorf("lunch for %s: %w", day, err)
			}
		}
	}
	return nil
}
