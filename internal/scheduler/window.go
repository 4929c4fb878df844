// Package scheduler decides when the worker may process jobs. Processing
// windows are hour ranges on selected weekdays and may cross midnight.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"forllm/internal/domain"
)

var dayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// AllDays is every weekday, Monday first.
var AllDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}

// ParseDays parses a comma-separated list such as "Mon,Wed,Fri".
func ParseDays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	seen := make(map[time.Weekday]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		found := false
		for i, name := range dayNames {
			if strings.EqualFold(part, name) {
				d := time.Weekday(i)
				if !seen[d] {
					seen[d] = true
					days = append(days, d)
				}
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("scheduler: unknown day %q", part)
		}
	}
	return days, nil
}

// FormatDays renders days in the stored "Mon,Tue" form.
func FormatDays(days []time.Weekday) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, dayNames[d%7])
	}
	return strings.Join(names, ",")
}

// Validate checks hour ranges.
func Validate(s domain.Schedule) error {
	if s.StartHour < 0 || s.StartHour > 23 {
		return fmt.Errorf("scheduler: start hour %d out of range 0-23", s.StartHour)
	}
	if s.EndHour < 0 || s.EndHour > 23 {
		return fmt.Errorf("scheduler: end hour %d out of range 0-23", s.EndHour)
	}
	return nil
}

func activeOn(s domain.Schedule, d time.Weekday) bool {
	for _, day := range s.Days {
		if day == d {
			return true
		}
	}
	return false
}

// IsActive reports whether t falls inside the window. start == end means
// all day, end == 0 means until midnight and start > end crosses midnight.
// The weekday is that of t.
func IsActive(s domain.Schedule, t time.Time) bool {
	if !s.Enabled || !activeOn(s, t.Weekday()) {
		return false
	}
	h := t.Hour()
	switch {
	case s.StartHour == s.EndHour:
		return true
	case s.EndHour == 0:
		return h >= s.StartHour
	case s.StartHour < s.EndHour:
		return h >= s.StartHour && h < s.EndHour
	default:
		return h >= s.StartHour || h < s.EndHour
	}
}

// Describe renders a window as "22:00-06:00 (Mon,Tue)".
func Describe(s domain.Schedule) string {
	return fmt.Sprintf("%02d:00-%02d:00 (%s)", s.StartHour, s.EndHour, FormatDays(s.Days))
}
