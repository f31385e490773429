package main

import (
	"fmt"
	"strings"
	"time"
)

var clockLayouts = []string{"15:04", "15:04:05"}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// parseAt accepts a wall-clock time for today, a local date-time, or RFC3339.
func parseAt(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, nil
	}
	loc := now.Location()
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use HH:MM, YYYY-MM-DD HH:MM or RFC3339)", value)
}

// parseDay accepts YYYY-MM-DD, "today" or "yesterday".
func parseDay(value string, now time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "today":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", value)
	}
	return t, nil
}

func parseDurationFlag(value string) (*time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q (e.g. 30m, 1h15m)", value)
	}
	if d < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}
	return &d, nil
}

func formatMinutes(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}

func formatClock(t time.Time, now time.Time) string {
	local := t.In(now.Location())
	y1, m1, d1 := local.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return local.Format("15:04")
	}
	return local.Format("2006-01-02 15:04")
}
