package timeutil

import (
	"fmt"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

func StartOfDay(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, value.Location())
}

func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// StartOfWeek returns midnight of the Monday of value's ISO week.
func StartOfWeek(value time.Time) time.Time {
	offset := (int(value.Weekday()) + 6) % 7
	return StartOfDay(value).AddDate(0, 0, -offset)
}

// WeekRange returns [monday, next monday) around value.
func WeekRange(value time.Time) (time.Time, time.Time) {
	from := StartOfWeek(value)
	return from, from.AddDate(0, 0, 7)
}

// ParseDay reads a YYYY-MM-DD date at midnight in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	parsed, err := time.ParseInLocation(DayLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", value)
	}
	return parsed, nil
}

// ParseClock resolves an "HH:MM" or RFC 3339 value against the day of ref.
func ParseClock(value string, ref time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.In(ref.Location()), nil
	}
	clock, err := time.ParseInLocation("15:04", value, ref.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected HH:MM or RFC 3339)", value)
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), clock.Hour(), clock.Minute(), 0, 0, ref.Location()), nil
}

func FormatDuration(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
