// ABOUTME: Claude Code session over a persistent subprocess speaking stream-json NDJSON.
// ABOUTME: One reader goroutine parses stdout into typed messages on a channel.

package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	disconnectTimeout = 5 * time.Second
	scanBufSize       = 1024 * 1024 // 1MB max NDJSON line
	messageBufSize    = 64
)

// ClaudeSession runs the Claude Code CLI as a long-lived subprocess using the
// stream-json protocol. It implements Session.
type ClaudeSession struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected bool
	sessionID string

	messages chan Message
	done     chan struct{}
}

// NewClaudeSession creates an unconnected Claude Code session.
func NewClaudeSession(opts Options) Session {
	return &ClaudeSession{
		opts:     opts,
		logger:   slog.Default().With("component", "claude-session"),
		messages: make(chan Message, messageBufSize),
		done:     make(chan struct{}),
	}
}

// Connect spawns the Claude Code subprocess in the configured working
// directory and starts the stdout reader.
func (s *ClaudeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("session already connected")
	}

	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--permission-mode", "bypassPermissions",
	}
	if s.opts.Model != "" {
		args = append(args, "--model", s.opts.Model)
	}
	if s.opts.SystemPromptAppend != "" {
		args = append(args, "--append-system-prompt", s.opts.SystemPromptAppend)
	}

	cmd := exec.CommandContext(ctx, "claude", args...)
	cmd.Dir = s.opts.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	if s.opts.AgentTeams {
		cmd.Env = append(cmd.Env, "CLAUDE_CODE_EXPERIMENTAL_AGENT_TEAMS=1")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting claude: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.connected = true

	go s.drainStderr(stderr)
	go s.readLoop(stdout)

	return nil
}

// Send writes a user message as one NDJSON line on the subprocess stdin.
func (s *ClaudeSession) Send(_ context.Context, prompt string) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("session not connected")
	}
	stdin := s.stdin
	s.mu.Unlock()

	msg := streamInput{
		Type: "user",
		Message: streamInputMessage{
			Role:    "user",
			Content: prompt,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling prompt: %w", err)
	}
	data = append(data, '\n')

	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("writing to claude stdin: %w", err)
	}
	return nil
}

// Messages returns the typed output stream. Closed when the process exits.
func (s *ClaudeSession) Messages() <-chan Message {
	return s.messages
}

// Disconnect closes stdin to signal EOF and waits for the subprocess to
// exit, killing it after a grace period. Safe to call more than once.
func (s *ClaudeSession) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	cmd := s.cmd
	stdin := s.stdin
	s.mu.Unlock()

	// Release the reader so it cannot block forever on a full channel with
	// no consumer left.
	close(s.done)

	if stdin != nil {
		_ = stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(disconnectTimeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}
	return nil
}

var _ Session = (*ClaudeSession)(nil)

// readLoop is the single goroutine that reads NDJSON from stdout and emits
// typed messages. It closes the message channel when the process exits.
func (s *ClaudeSession) readLoop(stdout io.Reader) {
	defer close(s.messages)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		for _, msg := range s.parseLine(line) {
			select {
			case s.messages <- msg:
			case <-s.done:
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Warn("claude stdout read failed", "error", err)
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.logger.Debug("claude process stream ended", "session_id", s.sessionID)
}

// parseLine converts one NDJSON line into zero or more typed messages. An
// assistant turn that carries both text and a tool call yields the text
// first, then the tool signal.
func (s *ClaudeSession) parseLine(line []byte) []Message {
	var raw streamMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		s.logger.Warn("unparseable NDJSON line", "error", err)
		return nil
	}

	switch raw.Type {
	case "system":
		if raw.Subtype == "init" && raw.SessionID != "" {
			s.mu.Lock()
			s.sessionID = raw.SessionID
			s.mu.Unlock()
			s.logger.Info("claude session initialized", "session_id", raw.SessionID)
		}
		return []Message{{Type: MessageSystem, Subtype: raw.Subtype, SessionID: raw.SessionID}}

	case "assistant":
		text, tool := extractContent(raw.Message)
		var msgs []Message
		if text != "" {
			msgs = append(msgs, Message{Type: MessageText, Text: text})
		}
		if tool != "" {
			msgs = append(msgs, Message{Type: MessageToolUse, ToolName: tool})
		}
		return msgs

	case "result":
		return []Message{{Type: MessageResult, Result: &ResultInfo{
			Text:       raw.Result,
			NumTurns:   raw.NumTurns,
			DurationMs: raw.DurationMs,
			CostUSD:    raw.TotalCostUSD,
			IsError:    raw.IsError,
		}}}

	default:
		return nil
	}
}

func (s *ClaudeSession) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Debug("claude stderr", "line", scanner.Text())
	}
}

// --- stream-json protocol types ---

type streamInput struct {
	Type    string             `json:"type"`
	Message streamInputMessage `json:"message"`
}

type streamInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamMessage struct {
	Type         string          `json:"type"`
	Subtype      string          `json:"subtype,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	Result       string          `json:"result,omitempty"`
	NumTurns     int             `json:"num_turns,omitempty"`
	DurationMs   int64           `json:"duration_ms,omitempty"`
	TotalCostUSD float64         `json:"total_cost_usd,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
}

type contentMessage struct {
	Content []contentBlock `json:"content,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
}

// extractContent pulls assistant text and the first tool name (if any) out of
// a raw assistant message payload. Text blocks belonging to one message are
// concatenated.
func extractContent(raw json.RawMessage) (text, tool string) {
	if raw == nil {
		return "", ""
	}

	var msg contentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", ""
	}

	var b strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			b.WriteString(block.Text)
		case "tool_use":
			if tool == "" {
				tool = block.Name
			}
		}
	}
	return b.String(), tool
}
