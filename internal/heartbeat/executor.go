// ABOUTME: Heartbeat executor that runs periodic health-check prompts.
// ABOUTME: Assembles the prompt from config and checklist, then classifies the reply.

package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/2389/herald-gateway/internal/executor"
)

// ReservedChatID keys the heartbeat's own conversation. Negative so it can
// never collide with a real Telegram chat id.
const ReservedChatID int64 = -999999

// DefaultPrompt is used when the config carries no custom prompt.
const DefaultPrompt = `You are performing a periodic health check.
Review the current state and any items needing attention.

If everything is OK and no alerts are needed, start with HEARTBEAT_OK.

If there are issues requiring attention, describe them clearly.`

// markerInstruction is appended when the assembled prompt never mentions the
// marker, so the agent always knows the ack protocol.
const markerInstruction = "\n\nIf all checks pass, respond with HEARTBEAT_OK. " +
	"Otherwise, describe any issues without the HEARTBEAT_OK marker."

// Runner executes one prompt against a chat's agent session.
type Runner interface {
	Execute(ctx context.Context, prompt string, chatID int64, onPartial executor.PartialFunc) executor.Result
}

// Result is one heartbeat outcome. Success means the check ran to
// completion, even when the reply describes problems.
type Result struct {
	Success       bool
	Content       string
	ShouldDeliver bool
	OK            bool
	Error         string
}

// Executor builds heartbeat prompts, runs them, and classifies the replies.
type Executor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExecutor(cfg Config, runner Runner) *Executor {
	return &Executor{
		cfg:    cfg,
		runner: runner,
		logger: slog.Default().With("component", "heartbeat"),
	}
}

// BuildPrompt assembles the heartbeat prompt: the configured prompt or the
// default, then the checklist file contents under a heading, then the marker
// instruction unless the prompt already mentions the marker.
func (e *Executor) BuildPrompt() string {
	parts := []string{DefaultPrompt}
	if e.cfg.Prompt != "" {
		parts = []string{e.cfg.Prompt}
	}

	if e.cfg.ChecklistPath != "" {
		if checklist := ReadChecklist(e.cfg.ChecklistPath); checklist != "" {
			parts = append(parts, "\n## Heartbeat Checklist\n", checklist)
		}
	}

	prompt := strings.Join(parts, "\n")
	if !strings.Contains(prompt, Marker) {
		prompt += "\n" + markerInstruction
	}
	return prompt
}

// Run executes one heartbeat check against the given chat. A zero chat id
// falls back to the reserved heartbeat conversation so checks stay isolated
// from user traffic.
func (e *Executor) Run(ctx context.Context, chatID int64) Result {
	if chatID == 0 {
		chatID = ReservedChatID
	}
	prompt := e.BuildPrompt()
	e.logger.Info("executing heartbeat", "prompt_chars", len(prompt), "chat_id", chatID)

	res := e.runner.Execute(ctx, prompt, chatID, nil)
	if !res.Success {
		return Result{Error: res.Error}
	}

	c := Classify(res.Output, e.cfg.AckMaxChars)
	if c.OK && !c.ShouldDeliver {
		e.logger.Info("heartbeat ok, suppressed",
			"content_chars", utf8.RuneCountInString(c.Content))
	}
	return Result{
		Success:       true,
		Content:       c.Content,
		ShouldDeliver: c.ShouldDeliver,
		OK:            c.OK,
	}
}
