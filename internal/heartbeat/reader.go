// ABOUTME: Reads the HEARTBEAT.md checklist and decides whether it has actionable content.
// ABOUTME: Files with only headings and blank lines are treated as empty.

package heartbeat

import (
	"os"
	"strings"
)

// ReadChecklist returns the checklist file contents when the file exists and
// contains something beyond markdown headings and blank lines. It returns ""
// when there is nothing actionable, so callers can skip the checklist section
// entirely.
func ReadChecklist(path string) string {
	if path == "" {
		return ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	content := string(data)
	if !hasMeaningfulContent(content) {
		return ""
	}
	return content
}

// hasMeaningfulContent reports whether any line is neither blank nor a
// markdown heading.
func hasMeaningfulContent(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return true
	}
	return false
}
