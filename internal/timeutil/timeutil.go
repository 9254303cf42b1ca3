// ABOUTME: Parses the relative and absolute time bounds accepted by list and mark-read
// ABOUTME: Periods (today, yesterday, week, month), durations, and ISO or RFC3339 dates

package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ParseBound converts s into an instant relative to now:
//
//	today, yesterday   midnight of that day
//	week               midnight of the most recent Sunday
//	month              midnight of the first of the month
//	48h, 90m           now minus the duration
//	2024-12-15         midnight UTC of that date
//	RFC3339            as written
func ParseBound(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	today := StartOfDay(now)

	switch s {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "week":
		return today.AddDate(0, 0, -int(today.Weekday())), nil
	case "month":
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), nil
	}

	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(s)); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q: use today, yesterday, week, month, a duration like 48h, or YYYY-MM-DD", s)
}
