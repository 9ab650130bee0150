package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Shift is a working interval within one day, "HH:mm" local time.
type Shift struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// DaySchedule describes one weekday. A closed day has Open=false.
type DaySchedule struct {
	Open       bool    `yaml:"open" json:"open"`
	Shifts     []Shift `yaml:"shifts" json:"shifts"`
	LunchStart string  `yaml:"lunch_start,omitempty" json:"lunch_start,omitempty"`
	LunchEnd   string  `yaml:"lunch_end,omitempty" json:"lunch_end,omitempty"`
}

// HasLunch reports whether a lunch window is configured.
func (d DaySchedule) HasLunch() bool {
	return d.LunchStart != "" && d.LunchEnd != ""
}

// WeeklySchedule is keyed by weekday. Missing days are closed.
// It is used both for company business hours and for professional shifts.
type WeeklySchedule map[time.Weekday]DaySchedule

// Day returns the schedule for a weekday and whether the day is open.
func (w WeeklySchedule) Day(day time.Weekday) (DaySchedule, bool) {
	d, ok := w[day]
	if !ok || !d.Open || len(d.Shifts) == 0 {
		return DaySchedule{}, false
	}
	return d, true
}

func (w WeeklySchedule) MarshalJSON() ([]byte, error) {
	out := make(map[string]DaySchedule, len(w))
	for day, sched := range w {
		out[strings.ToLower(day.String())] = sched
	}
	return json.Marshal(out)
}

func (w *WeeklySchedule) UnmarshalJSON(data []byte) error {
	var raw map[string]DaySchedule
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return w.fromRaw(raw)
}

// UnmarshalYAML accepts weekday names ("monday") or numbers (0 = sunday).
// The func-style signature is understood by both yaml.v2 and yaml.v3.
func (w *WeeklySchedule) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw map[string]DaySchedule
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return w.fromRaw(raw)
}

func (w *WeeklySchedule) fromRaw(raw map[string]DaySchedule) error {
	out := make(WeeklySchedule, len(raw))
	for key, sched := range raw {
		day, err := ParseWeekday(key)
		if err != nil {
			return err
		}
		out[day] = sched
	}
	*w = out
	return nil
}

// ParseWeekday parses "monday", "Mon" or "1".
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(key); err == nil {
		if n < 0 || n > 6 {
			return 0, fmt.Errorf("weekday out of range: %d", n)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if key == name || key == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday: %q", s)
}
