// ABOUTME: Agent session abstraction consumed by the session executor.
// ABOUTME: A session is a persistent bidirectional stream of typed messages.

package agent

import "context"

// MessageType classifies a streamed message from an agent session.
type MessageType int

const (
	// MessageText is a partial assistant text fragment.
	MessageText MessageType = iota
	// MessageToolUse signals a tool invocation. Not user-visible text.
	MessageToolUse
	// MessageResult is a terminal result marking the end of one agent
	// turn or phase. A multi-phase run may produce several.
	MessageResult
	// MessageSystem is an informational signal (init, hooks, etc).
	MessageSystem
)

// ResultInfo carries the payload and metadata of a terminal result.
type ResultInfo struct {
	Text       string
	NumTurns   int
	DurationMs int64
	CostUSD    float64
	IsError    bool
}

// Message is one unit of the agent's output stream.
type Message struct {
	Type      MessageType
	Text      string      // MessageText
	ToolName  string      // MessageToolUse
	Result    *ResultInfo // MessageResult
	Subtype   string      // MessageSystem
	SessionID string      // MessageSystem init
}

// Options configures a new agent session.
type Options struct {
	// WorkingDir is the directory the agent operates in.
	WorkingDir string
	// Model overrides the agent's default model when non-empty.
	Model string
	// SystemPromptAppend is extra context (memory priming) appended to the
	// agent's system prompt.
	SystemPromptAppend string
	// AgentTeams enables the experimental multi-agent team mode, in which
	// the lead agent goes idle after spawning teammates and reports back
	// with additional terminal results.
	AgentTeams bool
}

// Session is a live connection to one agent. Implementations are not safe
// for concurrent sends; the executor's per-conversation lock serializes use.
type Session interface {
	// Connect establishes the underlying connection or process.
	Connect(ctx context.Context) error

	// Send submits a prompt on the session.
	Send(ctx context.Context, prompt string) error

	// Messages returns the session's output stream. The channel is closed
	// when the session ends.
	Messages() <-chan Message

	// Disconnect tears the session down. Safe to call more than once.
	Disconnect() error
}

// Factory creates a new, unconnected session.
type Factory func(opts Options) Session
