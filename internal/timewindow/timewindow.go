// Package timewindow holds the date/time arithmetic shared by slot generation
// and conflict detection. All functions are pure.
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds [start, start+minutes).
func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: AddMinutes(start, minutes)}
}

// Overlaps reports whether two half-open intervals share any instant.
// Touching intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// Contains reports whether inner lies fully inside outer.
func Contains(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// Minutes returns the interval length in whole minutes.
func (i Interval) Minutes() int {
	return int(i.End.Sub(i.Start) / time.Minute)
}

// AddMinutes adds n minutes to t.
func AddMinutes(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * time.Minute)
}

// ParseClock parses "HH:mm" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q: expected HH:mm", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute != 0 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	return hour, minute, nil
}

// At places an "HH:mm" clock on the calendar day of day, in day's location.
// "24:00" is the end of that day.
func At(day time.Time, clock string) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, 0, 0, day.Location()), nil
}

// Window builds the interval between two clocks on the same day.
func Window(day time.Time, from, to string) (Interval, error) {
	start, err := At(day, from)
	if err != nil {
		return Interval{}, err
	}
	end, err := At(day, to)
	if err != nil {
		return Interval{}, err
	}
	if !end.After(start) {
		return Interval{}, fmt.Errorf("window %s-%s is empty", from, to)
	}
	return Interval{Start: start, End: end}, nil
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// Days enumerates calendar days from..to inclusive, each at midnight.
func Days(from, to time.Time) []time.Time {
	start := StartOfDay(from)
	end := StartOfDay(to.In(from.Location()))
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
