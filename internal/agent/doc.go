// Package agent runs Claude Code sessions as persistent subprocesses.
//
// # Overview
//
// Each session wraps one `claude` process started in streaming mode. Prompts
// go in as NDJSON on stdin; assistant text, tool use, and result messages
// come back as NDJSON on stdout and are decoded into typed Messages on a
// channel.
//
// # Session
//
// Session is the abstraction the executor consumes:
//
//	sess := agent.NewClaudeSession(agent.Options{
//	    WorkingDir: "/srv/agent",
//	    Model:      "sonnet",
//	})
//	if err := sess.Connect(ctx); err != nil { ... }
//	defer sess.Disconnect()
//
//	sess.Send(ctx, "summarize today's alerts")
//	for msg := range sess.Messages() {
//	    // msg.Type: MessageText, MessageToolUse, MessageResult, MessageSystem
//	}
//
// A session stays alive across prompts, so the agent keeps its conversation
// context. The Messages channel closes when the subprocess exits or the
// session is disconnected.
//
// # Factory
//
// Factory is the constructor type the executor takes, which keeps the
// subprocess out of executor tests entirely.
package agent
