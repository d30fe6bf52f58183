package model

import (
	"testing"
	"time"
)

func TestFormatTimeLexicographicOrder(t *testing.T) {
	// Storage compares timestamps as TEXT, so string order must equal
	// time order even across sub-second boundaries.
	times := []time.Time{
		time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 2, 10, 0, 0, 5e8, time.UTC),
		time.Date(2025, 1, 2, 10, 0, 1, 0, time.UTC),
		time.Date(2025, 1, 2, 10, 0, 1, 1, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		prev, cur := FormatTime(times[i-1]), FormatTime(times[i])
		if prev >= cur {
			t.Errorf("FormatTime order broken: %q >= %q", prev, cur)
		}
	}
}

func TestFormatTimeRoundTrip(t *testing.T) {
	in := time.Date(2025, 6, 15, 23, 59, 59, 123456789, time.UTC)
	got, err := ParseTime(FormatTime(in))
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if !got.Equal(in) {
		t.Errorf("round trip changed value: %v -> %v", in, got)
	}
}

func TestParseTimeAcceptsForeignFormats(t *testing.T) {
	inputs := []string{
		"2025-06-15T10:00:00Z",
		"2025-06-15T10:00:00.5Z",
		"2025-06-15T12:00:00+02:00",
	}
	for _, in := range inputs {
		if _, err := ParseTime(in); err != nil {
			t.Errorf("ParseTime(%q) failed: %v", in, err)
		}
	}
	if _, err := ParseTime("not a time"); err == nil {
		t.Error("ParseTime accepted garbage")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-01")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if d.Year() != 2024 || d.Month() != 3 || d.Day() != 1 {
		t.Errorf("ParseDate = %v", d)
	}
	for _, bad := range []string{"2024-3-1", "01/03/2024", "2024-03-01T00:00:00Z", ""} {
		if _, err := ParseDate(bad); err == nil {
			t.Errorf("ParseDate(%q) accepted invalid date", bad)
		}
	}
}
