// ABOUTME: Heartbeat configuration with fail-fast validation of intervals and windows.
// ABOUTME: Loaded as part of the gateway YAML config.

package heartbeat

import (
	"fmt"
	"strings"
	"time"
)

// Target sentinel values. Anything else is parsed as a literal chat id.
const (
	TargetLast = "last"
	TargetNone = "none"
)

// Config holds heartbeat settings. It is validated once at load time and
// immutable afterwards; the parsed interval is recomputed on demand so it
// always reflects the source string.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	Every         string `yaml:"every"`
	Prompt        string `yaml:"prompt"`
	Target        string `yaml:"target"`
	ActiveHours   string `yaml:"active_hours"`
	AckMaxChars   int    `yaml:"ack_max_chars"`
	Timezone      string `yaml:"timezone"`
	ChecklistPath string `yaml:"checklist_path"`
}

// Validate applies defaults and rejects malformed intervals, windows,
// timezones, and thresholds. Called at config load; failures are fatal to
// startup.
func (c *Config) Validate() error {
	if c.Every == "" {
		c.Every = "30m"
	}
	if c.Target == "" {
		c.Target = TargetLast
	}
	if c.AckMaxChars == 0 {
		c.AckMaxChars = 300
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}

	if _, err := ParseInterval(c.Every); err != nil {
		return fmt.Errorf("heartbeat.every: %w", err)
	}
	if strings.TrimSpace(c.ActiveHours) != "" {
		if _, _, err := ParseActiveHours(c.ActiveHours); err != nil {
			return fmt.Errorf("heartbeat.active_hours: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("heartbeat.timezone: %w: %q", ErrUnknownTimezone, c.Timezone)
	}
	if c.AckMaxChars < 0 {
		return fmt.Errorf("heartbeat.ack_max_chars must be positive, got %d", c.AckMaxChars)
	}
	return nil
}

// Interval returns the parsed heartbeat interval. Validate guarantees the
// string parses, so errors here are impossible after load; the default covers
// zero-value configs in tests.
func (c *Config) Interval() time.Duration {
	d, err := ParseInterval(c.Every)
	if err != nil {
		return DefaultInterval
	}
	return d
}
