package model

import (
	"fmt"
	"time"
)

// DateOnly is the wire layout for all-day event dates.
const DateOnly = "2006-01-02"

// IsDateOnly reports whether a wire date is the 10-character date-only form
// used by all-day events.
func IsDateOnly(s string) bool {
	return len(s) == len(DateOnly)
}

// ParseWireDate parses a wire date: date-only for all-day events, RFC 3339
// for timed events. All-day dates are anchored at midnight UTC.
func ParseWireDate(s string) (time.Time, error) {
	if IsDateOnly(s) {
		t, err := time.Parse(DateOnly, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing all-day date %q: %w", s, err)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatWireDate renders t as a wire date in the given form.
func FormatWireDate(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(DateOnly)
	}
	return t.Format(time.RFC3339)
}

// DayKey returns the civil day of t as days since the Unix epoch, using t's
// own wall date. Unlike day-of-year arithmetic it never wraps at year
// boundaries, so range comparisons stay plain integer comparisons.
func DayKey(t time.Time) int {
	y, m, d := t.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// DayRange returns the half-open day interval [from, to) covered by the
// given wire dates. The final day is excluded so an event ending on day N
// never overlaps a neighbour starting on day N. A zero-length or inverted
// range collapses to a single day.
func DayRange(start, end string) (from, to int, err error) {
	s, err := ParseWireDate(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseWireDate(end)
	if err != nil {
		return 0, 0, err
	}
	from = DayKey(s)
	to = DayKey(e)
	if !IsDateOnly(end) {
		// A timed event occupies its end day too.
		to++
	}
	if to <= from {
		to = from + 1
	}
	return from, to, nil
}

// ShiftTimeOfDay applies the clock time and offset of tmpl onto the calendar
// date of the wire date s. All-day dates have no clock and pass through
// unchanged. This is how series-wide time edits propagate without collapsing
// every instance onto one date.
func ShiftTimeOfDay(s string, tmpl time.Time) (string, error) {
	if IsDateOnly(s) {
		return s, nil
	}
	t, err := ParseWireDate(s)
	if err != nil {
		return "", err
	}
	y, m, d := t.Date()
	shifted := time.Date(y, m, d, tmpl.Hour(), tmpl.Minute(), tmpl.Second(), 0, tmpl.Location())
	return shifted.Format(time.RFC3339), nil
}
