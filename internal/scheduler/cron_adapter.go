package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"forllm/internal/domain"
)

// startSpec renders the window's start as a standard 5-field cron
// expression, e.g. "0 22 * * 1,2,3".
func startSpec(s domain.Schedule) (string, error) {
	if len(s.Days) == 0 {
		return "", fmt.Errorf("scheduler: window %d has no active days", s.ID)
	}
	days := make([]string, 0, len(s.Days))
	for _, d := range s.Days {
		days = append(days, strconv.Itoa(int(d)))
	}
	return fmt.Sprintf("0 %d * * %s", s.StartHour, strings.Join(days, ",")), nil
}

// nextStart returns the first start of s strictly after now, in now's
// location.
func nextStart(s domain.Schedule, now time.Time) (time.Time, error) {
	spec, err := startSpec(s)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse %q: %w", spec, err)
	}
	return sched.Next(now), nil
}
