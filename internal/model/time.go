package model

import (
	"fmt"
	"time"
)

// TimeLayout is the canonical storage format for timestamps: RFC3339 UTC with
// a fixed nine-digit fractional second. Fixed width keeps lexicographic order
// on TEXT columns identical to chronological order, which the sync feeds rely
// on for their (updated_at, id) ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// DateLayout is the calendar-date format used by reports and verification tags.
const DateLayout = "2006-01-02"

// Now returns the current time in UTC. All persisted timestamps go through
// this so the canonical format never carries a zone offset.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders t in the canonical storage format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts any RFC3339 timestamp, not just the canonical form,
// so callers can pass values produced by other systems.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatDate renders t as a calendar date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
