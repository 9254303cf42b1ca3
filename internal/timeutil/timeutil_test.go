// ABOUTME: Tests for time bound parsing
// ABOUTME: Uses a fixed clock so period boundaries are deterministic

package timeutil

import (
	"testing"
	"time"
)

func TestParseBound(t *testing.T) {
	// Wednesday
	now := time.Date(2024, time.December, 18, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"today", time.Date(2024, time.December, 18, 0, 0, 0, 0, time.UTC)},
		{"Yesterday", time.Date(2024, time.December, 17, 0, 0, 0, 0, time.UTC)},
		{"week", time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC)},
		{"month", time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)},
		{"48h", time.Date(2024, time.December, 16, 15, 30, 0, 0, time.UTC)},
		{"2024-12-15", time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-12-15T10:30:00Z", time.Date(2024, time.December, 15, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBound(tt.input, now)
			if err != nil {
				t.Fatalf("ParseBound(%q) error: %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseBound(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBoundInvalid(t *testing.T) {
	now := time.Now()
	for _, input := range []string{"", "not-a-date", "2024-12", "-5h"} {
		if _, err := ParseBound(input, now); err == nil {
			t.Errorf("ParseBound(%q) should fail", input)
		}
	}
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("test", 3600)
	got := StartOfDay(time.Date(2024, time.March, 3, 23, 59, 0, 0, loc))
	if got.Hour() != 0 || got.Day() != 3 || got.Location() != loc {
		t.Errorf("StartOfDay = %v", got)
	}
}
