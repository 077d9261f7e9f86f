// ABOUTME: Tests for checklist file reading and the headings-only rule.

package heartbeat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChecklist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadChecklistReturnsContent(t *testing.T) {
	content := "# Checks\n\n- verify backup job ran\n- check disk space\n"
	path := writeChecklist(t, content)
	assert.Equal(t, content, ReadChecklist(path))
}

func TestReadChecklistEmptyPath(t *testing.T) {
	assert.Empty(t, ReadChecklist(""))
}

func TestReadChecklistMissingFile(t *testing.T) {
	assert.Empty(t, ReadChecklist(filepath.Join(t.TempDir(), "nope.md")))
}

func TestReadChecklistEmptyFile(t *testing.T) {
	assert.Empty(t, ReadChecklist(writeChecklist(t, "")))
	assert.Empty(t, ReadChecklist(writeChecklist(t, "\n\n  \n")))
}

func TestReadChecklistHeadingsOnly(t *testing.T) {
	assert.Empty(t, ReadChecklist(writeChecklist(t, "# Heartbeat\n\n## Checks\n")))
}

func TestReadChecklistHeadingsPlusItem(t *testing.T) {
	content := "# Heartbeat\n\n- one real item\n"
	assert.Equal(t, content, ReadChecklist(writeChecklist(t, content)))
}
