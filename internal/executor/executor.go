// ABOUTME: Session executor mapping chat ids to persistent agent sessions.
// ABOUTME: Serializes per-chat exchanges and drains streams with adaptive idle timeouts.

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/2389/herald-gateway/internal/agent"
)

// Default timeout policy. The pre-result timeout is generous because slow
// tool use is normal; once a terminal result has arrived, any follow-up phase
// is expected promptly or not at all.
const (
	DefaultInitialIdleTimeout = 5 * time.Minute
	DefaultResultIdleTimeout  = 20 * time.Second
	DefaultMinPartialChars    = 80
)

// PartialFunc receives substantive intermediate text while an exchange is
// still running. It may be called zero or more times per Execute call.
type PartialFunc func(ctx context.Context, text string) error

// Result is the outcome of one Execute call.
type Result struct {
	Success bool
	Output  string
	Error   string
}

// Options configures the executor.
type Options struct {
	// WorkingDir is where agent sessions run. Must exist.
	WorkingDir string
	// Model overrides the agent default when non-empty.
	Model string
	// MemoryPath optionally points at a memory-priming file whose contents
	// are appended to each session's system prompt.
	MemoryPath string
	// AgentTeams enables the experimental team mode on new sessions.
	AgentTeams bool

	// InitialIdleTimeout is the per-message idle timeout before the first
	// terminal result. Zero means DefaultInitialIdleTimeout.
	InitialIdleTimeout time.Duration
	// ResultIdleTimeout is the per-message idle timeout after at least one
	// terminal result. Zero means DefaultResultIdleTimeout.
	ResultIdleTimeout time.Duration
	// MinPartialChars is the minimum combined length of an assistant
	// message before it is forwarded to the partial callback.
	MinPartialChars int
}

// Executor owns the per-chat session table and the per-chat locks. It is
// safe for concurrent use from multiple chats; calls against the same chat id
// are totally ordered by that chat's lock.
type Executor struct {
	opts         Options
	factory      agent.Factory
	systemPrompt string
	logger       *slog.Logger

	// mu guards only the two tables. The per-chat locks, not mu, are held
	// across a full exchange.
	mu       sync.Mutex
	sessions map[int64]agent.Session
	locks    map[int64]*sync.Mutex
}

// New creates an executor. The working directory must exist; a missing
// memory file is tolerated (sessions simply get no priming text).
func New(opts Options, factory agent.Factory) (*Executor, error) {
	if opts.WorkingDir == "" {
		return nil, fmt.Errorf("working directory is required")
	}
	info, err := os.Stat(opts.WorkingDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("working directory does not exist: %s", opts.WorkingDir)
	}

	if opts.InitialIdleTimeout == 0 {
		opts.InitialIdleTimeout = DefaultInitialIdleTimeout
	}
	if opts.ResultIdleTimeout == 0 {
		opts.ResultIdleTimeout = DefaultResultIdleTimeout
	}
	if opts.MinPartialChars == 0 {
		opts.MinPartialChars = DefaultMinPartialChars
	}

	var systemPrompt string
	if opts.MemoryPath != "" {
		if data, err := os.ReadFile(opts.MemoryPath); err == nil {
			systemPrompt = strings.TrimSpace(string(data))
		}
	}

	return &Executor{
		opts:         opts,
		factory:      factory,
		systemPrompt: systemPrompt,
		logger:       slog.Default().With("component", "executor"),
		sessions:     make(map[int64]agent.Session),
		locks:        make(map[int64]*sync.Mutex),
	}, nil
}

// Execute runs one prompt against the chat's session, creating the session
// on first use. The chat's lock is held for the entire exchange so two
// concurrent calls against one chat can never interleave stream reads.
// Execute never panics across this boundary; failures come back in Result.
func (e *Executor) Execute(ctx context.Context, prompt string, chatID int64, onPartial PartialFunc) Result {
	lock := e.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	exchangeID := uuid.New().String()[:8]
	logger := e.logger.With("chat_id", chatID, "exchange_id", exchangeID)
	logger.Info("executing prompt", "prompt_chars", len(prompt))

	sess, err := e.sessionFor(ctx, chatID)
	if err != nil {
		logger.Error("session connect failed", "error", err)
		return Result{Success: false, Error: fmt.Sprintf("connecting agent session: %v", err)}
	}

	if err := sess.Send(ctx, prompt); err != nil {
		logger.Error("send failed", "error", err)
		e.teardown(chatID)
		return Result{Success: false, Error: fmt.Sprintf("sending prompt: %v", err)}
	}

	return e.drain(ctx, sess, chatID, onPartial, logger)
}

// drain consumes the session's message stream until it ends cleanly, the
// idle timeout fires, or the context is canceled. The idle timeout is
// re-armed on every received message and switches from the tolerant initial
// value to the short post-result value once a terminal result has been seen.
func (e *Executor) drain(ctx context.Context, sess agent.Session, chatID int64, onPartial PartialFunc, logger *slog.Logger) Result {
	var (
		textParts   []string
		lastResult  string
		resultCount int
		toolCount   int
	)

	timer := time.NewTimer(e.opts.InitialIdleTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-sess.Messages():
			if !ok {
				// Clean end of stream.
				return e.success(textParts, lastResult, resultCount, logger)
			}

			switch msg.Type {
			case agent.MessageText:
				textParts = append(textParts, msg.Text)
				e.forwardPartial(ctx, onPartial, msg.Text, logger)

			case agent.MessageToolUse:
				toolCount++
				logger.Debug("tool invocation", "tool", msg.ToolName, "count", toolCount)

			case agent.MessageResult:
				resultCount++
				if msg.Result != nil {
					// Later results overwrite earlier ones: a team run
					// reports the lead's turn first and the final summary
					// last, and the last one is the answer.
					lastResult = msg.Result.Text
					logger.Info("terminal result",
						"result_num", resultCount,
						"turns", msg.Result.NumTurns,
						"duration_ms", msg.Result.DurationMs,
						"cost_usd", msg.Result.CostUSD,
					)
				}

			case agent.MessageSystem:
				logger.Debug("system signal", "subtype", msg.Subtype)
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.idleTimeout(resultCount))

		case <-timer.C:
			if resultCount == 0 {
				// A hang: the session is in an indeterminate state and
				// must not be reused.
				logger.Error("idle timeout with no result, tearing down session",
					"timeout", e.opts.InitialIdleTimeout)
				e.teardown(chatID)
				return Result{
					Success: false,
					Error: fmt.Sprintf("agent produced no result within %s",
						e.opts.InitialIdleTimeout),
				}
			}
			// The secondary phase never arrived within the short window.
			// That is a normal completion, not an error.
			logger.Debug("post-result idle timeout, completing", "results", resultCount)
			return e.success(textParts, lastResult, resultCount, logger)

		case <-ctx.Done():
			logger.Error("execution canceled", "error", ctx.Err())
			e.teardown(chatID)
			return Result{Success: false, Error: fmt.Sprintf("execution canceled: %v", ctx.Err())}
		}
	}
}

// forwardPartial relays one combined assistant message to the caller when it
// carries enough substance. Short status fragments are kept out of the chat.
func (e *Executor) forwardPartial(ctx context.Context, onPartial PartialFunc, text string, logger *slog.Logger) {
	if onPartial == nil {
		return
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) <= e.opts.MinPartialChars {
		return
	}
	if err := onPartial(ctx, text); err != nil {
		logger.Warn("partial delivery failed", "error", err)
	}
}

func (e *Executor) idleTimeout(resultCount int) time.Duration {
	if resultCount > 0 {
		return e.opts.ResultIdleTimeout
	}
	return e.opts.InitialIdleTimeout
}

// success builds the final output: the last terminal result when one was
// seen, otherwise the accumulated assistant text in receipt order.
func (e *Executor) success(textParts []string, lastResult string, resultCount int, logger *slog.Logger) Result {
	output := lastResult
	if resultCount == 0 {
		output = strings.Join(textParts, "\n")
	}
	output = strings.TrimSpace(output)
	logger.Info("execution complete", "results", resultCount, "output_chars", len(output))
	return Result{Success: true, Output: output}
}

// Reset tears down the chat's session if one exists. The next Execute for
// that chat starts fresh. Serialized against in-flight exchanges by the same
// per-chat lock.
func (e *Executor) Reset(ctx context.Context, chatID int64) {
	lock := e.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()
	e.teardown(chatID)
}

// Has reports whether a live session exists for the chat.
func (e *Executor) Has(chatID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[chatID]
	return ok
}

// ActiveSessions returns the number of live sessions.
func (e *Executor) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Shutdown disconnects every session. Best-effort: individual disconnect
// failures are logged and the table is always cleared.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[int64]agent.Session)
	e.mu.Unlock()

	for chatID, sess := range sessions {
		if err := sess.Disconnect(); err != nil {
			e.logger.Warn("disconnect failed during shutdown", "chat_id", chatID, "error", err)
		}
	}
	e.logger.Info("executor shut down", "sessions_closed", len(sessions))
}

// lockFor returns the chat's lock, creating it on first use.
func (e *Executor) lockFor(chatID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[chatID] = lock
	}
	return lock
}

// sessionFor returns the chat's session, creating and connecting one when
// absent. The caller holds the chat's lock, so only one connect can be in
// flight per chat.
func (e *Executor) sessionFor(ctx context.Context, chatID int64) (agent.Session, error) {
	e.mu.Lock()
	sess, ok := e.sessions[chatID]
	e.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess = e.factory(agent.Options{
		WorkingDir:         e.opts.WorkingDir,
		Model:              e.opts.Model,
		SystemPromptAppend: e.systemPrompt,
		AgentTeams:         e.opts.AgentTeams,
	})
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[chatID] = sess
	e.mu.Unlock()

	e.logger.Info("session created", "chat_id", chatID, "working_dir", e.opts.WorkingDir)
	return sess, nil
}

// teardown disconnects and removes the chat's session. Disconnect errors are
// swallowed: teardown must always complete.
func (e *Executor) teardown(chatID int64) {
	e.mu.Lock()
	sess, ok := e.sessions[chatID]
	if ok {
		delete(e.sessions, chatID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	if err := sess.Disconnect(); err != nil {
		e.logger.Warn("disconnect failed during teardown", "chat_id", chatID, "error", err)
	}
	e.logger.Info("session removed", "chat_id", chatID)
}
