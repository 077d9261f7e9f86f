// ABOUTME: Classifies heartbeat responses into suppressible acknowledgments or alerts.
// ABOUTME: Detects the HEARTBEAT_OK marker and applies the length-based delivery rule.

package heartbeat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Marker is the sentinel token the agent emits when a check finds nothing
// worth reporting.
const Marker = "HEARTBEAT_OK"

// markerPattern matches the marker anchored at the start or end of the
// response, including adjoining whitespace. A marker that only appears in the
// interior of the text does not count.
var markerPattern = regexp.MustCompile(`(?i)(^\s*heartbeat_ok\s*|\s*heartbeat_ok\s*$)`)

// Classification is the outcome of inspecting one heartbeat response.
type Classification struct {
	// OK is true when the response carried the acknowledgment marker.
	OK bool
	// Content is the response text with the marker stripped (when present).
	Content string
	// ShouldDeliver is true when the response must reach the user.
	ShouldDeliver bool
}

// Classify inspects a heartbeat response and decides whether it should be
// delivered. Acknowledgments whose remaining content is at most ackMaxChars
// characters are suppressed; anything without the marker is always delivered,
// unmodified.
func Classify(response string, ackMaxChars int) Classification {
	if !markerPattern.MatchString(response) {
		return Classification{OK: false, Content: response, ShouldDeliver: true}
	}

	content := strings.TrimSpace(markerPattern.ReplaceAllString(response, ""))
	return Classification{
		OK:            true,
		Content:       content,
		ShouldDeliver: utf8.RuneCountInString(content) > ackMaxChars,
	}
}
