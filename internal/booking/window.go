package booking

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window validation errors, surfaced to the user verbatim by the call screen.
var (
	ErrIncomplete = errors.New("booking is missing date or time fields")
	ErrTooEarly   = errors.New("this consultation has not started yet")
	ErrExpired    = errors.New("this consultation window has ended")
)

// SessionWindow is the derived validity interval of a booking. It is computed
// on demand and never persisted.
type SessionWindow struct {
	Start time.Time
	End   time.Time
}

// ComputeWindow anchors fromTime/toTime ("HH:mm") to the booking date in loc,
// with seconds and sub-seconds zeroed. A nil loc means the device's local
// zone, matching what the backend assumes for stored times.
func ComputeWindow(date, fromTime, toTime string, loc *time.Location) (SessionWindow, error) {
	if date == "" || fromTime == "" || toTime == "" {
		return SessionWindow{}, ErrIncomplete
	}
	if loc == nil {
		loc = time.Local
	}

	day, err := parseDate(date, loc)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("booking date %q: %w", date, err)
	}

	start, err := atTime(day, fromTime, loc)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("booking fromTime %q: %w", fromTime, err)
	}
	end, err := atTime(day, toTime, loc)
	if err != nil {
		return SessionWindow{}, fmt.Errorf("booking toTime %q: %w", toTime, err)
	}
	if !start.Before(end) {
		return SessionWindow{}, fmt.Errorf("booking window %s-%s is empty", fromTime, toTime)
	}
	return SessionWindow{Start: start, End: end}, nil
}

// ParseTimeRange splits a combined "HH:mm - HH:mm" range (the form chat
// bookings carry) into its from/to parts.
func ParseTimeRange(tr string) (from, to string, err error) {
	parts := strings.Split(tr, "-")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("time range %q: want \"HH:mm - HH:mm\"", tr)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// Validate checks now against the window. Returns ErrTooEarly before Start,
// ErrExpired after End, nil inside.
func (w SessionWindow) Validate(now time.Time) error {
	if now.Before(w.Start) {
		return ErrTooEarly
	}
	if now.After(w.End) {
		return ErrExpired
	}
	return nil
}

// Remaining returns whole seconds until End, floored. Zero or negative means
// the window has expired.
func (w SessionWindow) Remaining(now time.Time) int {
	return int(w.End.Sub(now) / time.Second)
}

func parseDate(date string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, date); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
		}
	}
	return time.Time{}, errors.New("unrecognized date format")
}

func atTime(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(hhmm, ":")
	if len(parts) != 2 {
		return time.Time{}, errors.New("want HH:mm")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, errors.New("bad hour")
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return time.Time{}, errors.New("bad minute")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, loc), nil
}
