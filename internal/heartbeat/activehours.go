// ABOUTME: Active-hours window checking for heartbeat scheduling.
// ABOUTME: Parses "HH:MM-HH:MM" style windows and handles overnight spans.

package heartbeat

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownTimezone indicates the configured timezone is not a known IANA id.
var ErrUnknownTimezone = errors.New("unknown timezone")

// windowPattern splits "<start>-<end>" with optional whitespace around the dash.
var windowPattern = regexp.MustCompile(`^(.+?)\s*-\s*(.+?)$`)

// parseClock parses a time-of-day in "H", "HH" or "H:MM"/"HH:MM" form into
// minutes since midnight.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		hour, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		minute, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		return hour*60 + minute, nil
	}

	hour, err := strconv.Atoi(s)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return hour * 60, nil
}

// ParseActiveHours parses a window like "09:00-17:00" or "9-17" into start and
// end expressed as minutes since midnight.
func ParseActiveHours(window string) (start, end int, err error) {
	m := windowPattern.FindStringSubmatch(strings.TrimSpace(window))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: active hours %q", ErrInvalidFormat, window)
	}

	start, err = parseClock(m[1])
	if err != nil {
		return 0, 0, fmt.Errorf("active hours %q: %w", window, err)
	}
	end, err = parseClock(m[2])
	if err != nil {
		return 0, 0, fmt.Errorf("active hours %q: %w", window, err)
	}
	return start, end, nil
}

// WithinActiveHours reports whether now falls inside the configured window,
// evaluated in the given timezone. An empty window means no restriction.
// The start boundary is inclusive and the end boundary exclusive. Windows
// where end <= start span midnight: inside means t >= start or t < end.
// A zero now means the real current time.
func WithinActiveHours(window, tz string, now time.Time) (bool, error) {
	if strings.TrimSpace(window) == "" {
		return true, nil
	}

	start, end, err := ParseActiveHours(window)
	if err != nil {
		return false, err
	}

	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownTimezone, tz)
	}

	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if end <= start {
		// Overnight window, e.g. 22:00-06:00.
		return minute >= start || minute < end, nil
	}
	return minute >= start && minute < end, nil
}
