package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimeOfDay converts an "HH:MM" clock string to minutes past midnight.
func ParseTimeOfDay(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("schedule: invalid time of day %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("schedule: invalid hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("schedule: invalid minute in %q", s)
	}
	return hh*60 + mm, nil
}

// FormatTimeOfDay renders minutes past midnight as "HH:MM".
func FormatTimeOfDay(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// WeekdayName returns the weekday key used by schedule windows for a date.
func WeekdayName(date time.Time) string {
	return date.Weekday().String()
}

// SlotStart combines a civil date with a minutes-of-day offset into an instant.
func SlotStart(date time.Time, startMins int) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, startMins/60, startMins%60, 0, 0, date.Location())
}
