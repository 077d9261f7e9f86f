// ABOUTME: Interval parsing for compact duration strings like "30m" or "1d12h30m45s".
// ABOUTME: Used by heartbeat config validation and the scheduler loop.

package heartbeat

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is used when no interval string is configured.
const DefaultInterval = 30 * time.Minute

// Interval parsing errors.
var (
	ErrInvalidFormat = errors.New("invalid duration format")
	ErrNonPositive   = errors.New("duration values must be positive")
)

// tokenPattern matches one <number><unit> token. Numbers may be integers or
// decimals; units are d, h, m, s (matched case-insensitively by lowering first).
var tokenPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([dhms])`)

var unitSeconds = map[string]float64{
	"d": 86400,
	"h": 3600,
	"m": 60,
	"s": 1,
}

// ParseInterval converts a duration string like "30m", "2h30m" or "1d12h30m45s"
// into a time.Duration. Empty or whitespace-only input yields DefaultInterval.
// Tokens with the same unit accumulate, so "1h1h" is two hours.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultInterval, nil
	}

	// Reject negatives before tokenizing: "-5m" would otherwise tokenize as "5m".
	if strings.Contains(s, "-") {
		return 0, ErrNonPositive
	}

	lowered := strings.ToLower(s)
	matches := tokenPattern.FindAllStringSubmatch(lowered, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	// Everything in the string must be consumed by tokens or whitespace,
	// otherwise something like "5x30m" would silently parse as 30 minutes.
	stripped := tokenPattern.ReplaceAllString(lowered, "")
	if strings.TrimSpace(stripped) != "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	var total float64
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
		}
		if value <= 0 {
			return 0, fmt.Errorf("%w: got %s%s", ErrNonPositive, m[1], m[2])
		}
		total += value * unitSeconds[m[2]]
	}

	return time.Duration(total * float64(time.Second)), nil
}
