// ABOUTME: Tests for heartbeat prompt assembly and result classification.

package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald-gateway/internal/executor"
)

type fakeRunner struct {
	mu      sync.Mutex
	prompts []string
	chatIDs []int64
	result  executor.Result
}

func (f *fakeRunner) Execute(ctx context.Context, prompt string, chatID int64, onPartial executor.PartialFunc) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.chatIDs = append(f.chatIDs, chatID)
	return f.result
}

func (f *fakeRunner) lastChatID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatIDs[len(f.chatIDs)-1]
}

func (f *fakeRunner) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

func okRunner(output string) *fakeRunner {
	return &fakeRunner{result: executor.Result{Success: true, Output: output}}
}

func TestBuildPromptDefault(t *testing.T) {
	e := NewExecutor(Config{}, okRunner(""))
	prompt := e.BuildPrompt()

	assert.Contains(t, prompt, "periodic health check")
	assert.Contains(t, prompt, Marker)
	// The default prompt already explains the marker, so the extra
	// instruction clause is not appended.
	assert.NotContains(t, prompt, "If all checks pass")
}

func TestBuildPromptCustomWithoutMarkerGetsInstruction(t *testing.T) {
	e := NewExecutor(Config{Prompt: "Check the build pipeline."}, okRunner(""))
	prompt := e.BuildPrompt()

	assert.True(t, strings.HasPrefix(prompt, "Check the build pipeline."))
	assert.NotContains(t, prompt, "periodic health check")
	assert.Contains(t, prompt, "If all checks pass, respond with HEARTBEAT_OK")
}

func TestBuildPromptCustomWithMarkerLeftAlone(t *testing.T) {
	custom := "Check things. Reply HEARTBEAT_OK when fine."
	e := NewExecutor(Config{Prompt: custom}, okRunner(""))
	prompt := e.BuildPrompt()

	assert.Equal(t, custom, prompt)
}

func TestBuildPromptIncludesChecklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	require.NoError(t, os.WriteFile(path, []byte("- check backups\n"), 0o644))

	e := NewExecutor(Config{ChecklistPath: path}, okRunner(""))
	prompt := e.BuildPrompt()

	assert.Contains(t, prompt, "## Heartbeat Checklist")
	assert.Contains(t, prompt, "- check backups")
}

func TestBuildPromptSkipsHeadingsOnlyChecklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HEARTBEAT.md")
	require.NoError(t, os.WriteFile(path, []byte("# Checks\n\n## Daily\n"), 0o644))

	e := NewExecutor(Config{ChecklistPath: path}, okRunner(""))
	assert.NotContains(t, e.BuildPrompt(), "## Heartbeat Checklist")
}

func TestRunUsesReservedChatIDByDefault(t *testing.T) {
	r := okRunner("HEARTBEAT_OK")
	e := NewExecutor(Config{AckMaxChars: 300}, r)

	res := e.Run(context.Background(), 0)
	require.True(t, res.Success)
	assert.Equal(t, ReservedChatID, r.lastChatID())
}

func TestRunUsesExplicitChatID(t *testing.T) {
	r := okRunner("HEARTBEAT_OK")
	e := NewExecutor(Config{AckMaxChars: 300}, r)

	e.Run(context.Background(), 4242)
	assert.Equal(t, int64(4242), r.lastChatID())
}

func TestRunClassifiesAck(t *testing.T) {
	r := okRunner("HEARTBEAT_OK all quiet")
	e := NewExecutor(Config{AckMaxChars: 300}, r)

	res := e.Run(context.Background(), 0)
	require.True(t, res.Success)
	assert.True(t, res.OK)
	assert.False(t, res.ShouldDeliver)
	assert.Equal(t, "all quiet", res.Content)
}

func TestRunClassifiesAlert(t *testing.T) {
	r := okRunner("disk is at 97% on the build host")
	e := NewExecutor(Config{AckMaxChars: 300}, r)

	res := e.Run(context.Background(), 0)
	require.True(t, res.Success)
	assert.False(t, res.OK)
	assert.True(t, res.ShouldDeliver)
	assert.Equal(t, "disk is at 97% on the build host", res.Content)
}

func TestRunMapsExecutionFailure(t *testing.T) {
	r := &fakeRunner{result: executor.Result{Success: false, Error: "agent produced no result within 5m0s"}}
	e := NewExecutor(Config{}, r)

	res := e.Run(context.Background(), 0)
	assert.False(t, res.Success)
	assert.False(t, res.ShouldDeliver)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "no result")
}

func TestRunSendsAssembledPrompt(t *testing.T) {
	r := okRunner("HEARTBEAT_OK")
	e := NewExecutor(Config{Prompt: "Inspect the queue depth."}, r)

	e.Run(context.Background(), 0)
	assert.Contains(t, r.lastPrompt(), "Inspect the queue depth.")
	assert.Contains(t, r.lastPrompt(), Marker)
}
