package preference

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseClock parses "HH:MM" into minutes since local midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Validate checks the window is well-formed and the timezone loads.
func (q *QuietHours) Validate() error {
	if _, err := parseClock(q.Start); err != nil {
		return err
	}
	if _, err := parseClock(q.End); err != nil {
		return err
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", q.Timezone, err)
		}
	}
	return nil
}

// Contains reports whether now falls inside the quiet window, and if
// so, the next moment sends become available (the next occurrence of
// End in the recipient's local time). The window is [start, end):
// a check exactly at End is allowed. Start > End wraps across midnight.
func (q *QuietHours) Contains(now time.Time) (bool, time.Time) {
	loc := time.UTC
	if q.Timezone != "" {
		if l, err := time.LoadLocation(q.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)

	start, err := parseClock(q.Start)
	if err != nil {
		return false, time.Time{}
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false, time.Time{}
	}
	if start == end {
		// Zero-length window never blocks.
		return false, time.Time{}
	}

	minutes := local.Hour()*60 + local.Minute()

	var inside bool
	if start < end {
		inside = minutes >= start && minutes < end
	} else {
		// Overnight window, e.g. 21:00-09:00.
		inside = minutes >= start || minutes < end
	}
	if !inside {
		return false, time.Time{}
	}

	// Next availability: today's End, rolled to tomorrow if already past.
	next := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return true, next
}

// localMidnight returns the most recent local midnight for the window's
// timezone. Used as the daily-cap counting boundary.
func localMidnight(tz string, now time.Time) time.Time {
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
